package shader

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Session is a snapshot of a layer configuration, control caches included,
// so an editing session can be restored later.
type Session struct {
	Version int                `msgpack:"version"`
	Order   []string           `msgpack:"order"`
	Configs map[string]*Config `msgpack:"configs"`
}

const sessionVersion = 1

// SaveSession writes the configs as msgpack compressed with zstd.
func SaveSession(w io.Writer, configs map[string]*Config, order []string) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	s := Session{Version: sessionVersion, Order: order, Configs: configs}
	if err := msgpack.NewEncoder(zw).Encode(&s); err != nil {
		zw.Close()
		return fmt.Errorf("encoding session: %w", err)
	}
	return zw.Close()
}

// LoadSession reads a session written by SaveSession.
func LoadSession(r io.Reader) (*Session, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var s Session
	if err := msgpack.NewDecoder(zr).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if s.Version != sessionVersion {
		return nil, fmt.Errorf("session version %d: unsupported", s.Version)
	}
	for key, c := range s.Configs {
		if err := c.normalize(key); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
