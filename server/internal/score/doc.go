// Package score derives the sun-exposure score for a single webcam frame.
//
// Compute(data) decodes JPEG, PNG, GIF, BMP or WebP bytes, converts the frame
// to 8-bit luminance and applies Otsu's method to split bright from dark
// pixels. The score is the fraction of pixels above the Otsu threshold:
//
//	score = count(gray > t) / (width * height)
//
// Compute is pure and never fails. Bytes that cannot be decoded yield the
// neutral result {Value: 0.5, Width: 0, Height: 0} so an ingestion cycle can
// always proceed once bytes were retrieved.
package score
