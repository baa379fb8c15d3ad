package main

import (
	"strconv"
	"strings"
)

func parsePorts(s string) (map[uint16]bool, error) {
	out := make(map[uint16]bool)
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return nil, err
		}
		out[uint16(p)] = true
	}
	return out, nil
}
