// Package mdf4 reads and writes ASAM MDF4 ("Measurement Data Format,
// version 4") files: the linked block graph, the conversion engine, the
// bit-accurate record decoder, the writer state machine, and a
// persistable index for larger-than-memory range access.
//
// The walker, decoder, writer, and index builder read and write only
// through a ByteSource/ByteSink (see rangereader.go) so the core stays
// testable against in-memory buffers. The package also ships concrete
// sources and sinks (memory, mmap, buffered, HTTP, file) and an Open
// convenience wrapper that memory-maps a path.
package mdf4
