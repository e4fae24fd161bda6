package compressors

// NoCompression stores payloads as is.
type NoCompression struct{}

func (NoCompression) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, src...), nil
}

func (NoCompression) Decompress(dst, src []byte, rawLen int) ([]byte, error) {
	if len(src) != rawLen {
		return nil, errLength(rawLen, len(src))
	}
	return append(dst, src...), nil
}

func (NoCompression) Type() Type { return None }
