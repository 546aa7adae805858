// Package gps reads position fixes from an NMEA 0183 stream.
//
// A Feed works the same whether the source is a serial receiver, a file
// replay, or a pipe. Only GGA and RMC sentences carry positions we care
// about; everything else, including sentences that fail their checksum, is
// counted and dropped without stopping the stream.
package gps
