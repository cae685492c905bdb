package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const lineReaderSize = 64 * 1024

// scanLines 는 r 을 줄 단위로 읽어 fn 에 넘긴다.
//
// limit 보다 긴 줄은 끝까지 읽어서 버리고 skipped 로 센다 (읽기는 계속한다).
// 빈 줄은 넘기지 않는다. 줄 끝의 "\n" / "\r\n" 은 떼고 넘긴다.
// fn 이 받은 slice 는 다음 호출 전까지만 유효하다.
func scanLines(r io.Reader, limit int, fn func([]byte) error) (skipped int, err error) {
	br := bufio.NewReaderSize(r, lineReaderSize)

	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, rerr := br.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if limit > 0 && len(trimEOL(line)) > limit {
				tooLong = true
				line = line[:0]
			}
		}

		// 줄이 reader 버퍼보다 길다. 같은 줄을 이어서 읽는다.
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return skipped, rerr
		}

		if tooLong {
			skipped++
		} else if l := trimEOL(line); len(l) > 0 {
			if err := fn(l); err != nil {
				return skipped, err
			}
		}
		line, tooLong = line[:0], false

		if rerr != nil {
			return skipped, nil
		}
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}
