package shell

// crlfStripper rewrites CRLF to LF across chunk boundaries. A trailing '\r'
// is held until the next byte decides it.
type crlfStripper struct {
	pendingCR bool
}

// Strip appends the rewritten form of src to dst.
func (s *crlfStripper) Strip(dst, src []byte) []byte {
	for _, b := range src {
		if s.pendingCR {
			s.pendingCR = false
			if b == '\n' {
				dst = append(dst, '\n')
				continue
			}
			dst = append(dst, '\r')
		}
		if b == '\r' {
			s.pendingCR = true
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Flush returns a held '\r' at end of stream.
func (s *crlfStripper) Flush(dst []byte) []byte {
	if s.pendingCR {
		s.pendingCR = false
		dst = append(dst, '\r')
	}
	return dst
}
