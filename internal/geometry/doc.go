// Package geometry holds the pure spatialization math: listener-frame
// transforms, the cylindrical speaker-ring projection that yields a per-source
// speaker angle, distance rolloff and perceptual width.
//
// All functions are stateless. Angles leaving this package are in protocol
// units: atan2(z, x)/π − 0.5, so a point straight ahead on +X maps to −0.5.
package geometry
