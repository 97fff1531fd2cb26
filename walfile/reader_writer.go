package walfile

import (
	"fmt"
	"os"
	"sync/atomic"

	"waldb/walrec"
)

type fileReader struct {
	f      *os.File
	closed atomic.Bool
}

func (r *fileReader) ReadAt(buf []byte, off int64) (int, error) {
	n, err := r.f.ReadAt(buf, off)
	if err != nil {
		return n, fmt.Errorf("%w: read at offset %d: %v", walrec.ErrIO, off, err)
	}
	return n, nil
}

func (r *fileReader) Length() (int64, error) {
	info, err := r.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat: %v", walrec.ErrIO, err)
	}
	return info.Size(), nil
}

func (r *fileReader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("%w: close reader: %v", walrec.ErrIO, err)
	}
	return nil
}

type fileWriter struct {
	f      *os.File
	pos    int64
	fm     *FileManager
	closed atomic.Bool
}

func (w *fileWriter) Append(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.pos)
	if err != nil {
		return n, fmt.Errorf("%w: append %d bytes at offset %d: %v", walrec.ErrIO, len(p), w.pos, err)
	}
	w.pos += int64(n)
	return n, nil
}

func (w *fileWriter) Seek(off int64) error {
	w.pos = off
	return nil
}

func (w *fileWriter) Length() (int64, error) {
	info, err := w.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat: %v", walrec.ErrIO, err)
	}
	return info.Size(), nil
}

func (w *fileWriter) Sync() error {
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", walrec.ErrIO, err)
	}
	if w.fm != nil {
		if err := w.fm.injectFailure("shadow-sync"); err != nil {
			return err
		}
	}
	return nil
}

func (w *fileWriter) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("%w: close writer: %v", walrec.ErrIO, err)
	}
	return nil
}
