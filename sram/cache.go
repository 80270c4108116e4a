/*
tc2-fuel-gauge - Battery fuel gauge estimation engine
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package sram

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/transport"
)

// Codec owns the descriptor table and the last known value of every
// parameter. Many readers share the cache; writes come from the transport
// paths and from configuration reloads.
type Codec struct {
	descs [ParamCount]Descriptor
	known [ParamCount]bool

	tr transport.Transport

	mu     sync.RWMutex
	values [ParamCount]int64
	valid  [ParamCount]bool
}

// NewCodec validates the table and builds a codec over tr. Every parameter
// must be described exactly once.
func NewCodec(tr transport.Transport, descs []Descriptor) (*Codec, error) {
	c := &Codec{tr: tr}
	for _, d := range descs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if c.known[d.ID] {
			return nil, fmt.Errorf("%w: %v described twice", gaugeerr.ErrConfiguration, d.ID)
		}
		c.descs[d.ID] = d
		c.known[d.ID] = true
	}
	for id := ParamID(0); id < ParamCount; id++ {
		if !c.known[id] {
			return nil, fmt.Errorf("%w: %v has no descriptor", gaugeerr.ErrConfiguration, id)
		}
	}
	return c, nil
}

// Descriptor returns the descriptor for id.
func (c *Codec) Descriptor(id ParamID) (Descriptor, error) {
	if id < 0 || id >= ParamCount {
		return Descriptor{}, fmt.Errorf("%w: id %d", gaugeerr.ErrUnknownParam, id)
	}
	return c.descs[id], nil
}

func (c *Codec) Encode(id ParamID, physical int64) ([]byte, error) {
	d, err := c.Descriptor(id)
	if err != nil {
		return nil, err
	}
	return d.Encode(physical), nil
}

func (c *Codec) Decode(id ParamID, raw []byte) (int64, error) {
	d, err := c.Descriptor(id)
	if err != nil {
		return 0, err
	}
	return d.Decode(raw)
}

func (c *Codec) DecodeValue(id ParamID, raw int64) (int64, error) {
	d, err := c.Descriptor(id)
	if err != nil {
		return 0, err
	}
	return d.DecodeValue(raw), nil
}

// Store decodes bytes fetched elsewhere and caches the result.
func (c *Codec) Store(id ParamID, raw []byte) (int64, error) {
	v, err := c.Decode(id, raw)
	if err != nil {
		return 0, err
	}
	c.set(id, v)
	return v, nil
}

// Cached returns the last value read, written or stored for id.
func (c *Codec) Cached(id ParamID) (int64, bool) {
	if id < 0 || id >= ParamCount {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[id], c.valid[id]
}

// Override replaces a cached value without touching the hardware. Used when
// a configuration reload changes a value that is written back later.
func (c *Codec) Override(id ParamID, physical int64) error {
	if _, err := c.Descriptor(id); err != nil {
		return err
	}
	c.set(id, physical)
	return nil
}

// Invalidate forgets the cached value of id.
func (c *Codec) Invalidate(id ParamID) {
	if id < 0 || id >= ParamCount {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid[id] = false
}

func (c *Codec) set(id ParamID, v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[id] = v
	c.valid[id] = true
}

// Fetch reads the raw bytes of id from the SRAM without decoding them.
func (c *Codec) Fetch(ctx context.Context, id ParamID) ([]byte, error) {
	d, err := c.Descriptor(id)
	if err != nil {
		return nil, err
	}
	return c.tr.Read(ctx, d.Word, d.Offset, d.Len)
}

// Read fetches id from the SRAM, decodes it and caches the result.
func (c *Codec) Read(ctx context.Context, id ParamID) (int64, error) {
	raw, err := c.Fetch(ctx, id)
	if err != nil {
		return 0, err
	}
	return c.Store(id, raw)
}

// Write encodes physical into id and writes it to the SRAM. The cache only
// changes once the write succeeds. It returns the value the hardware will
// hold, after rounding and saturation.
func (c *Codec) Write(ctx context.Context, id ParamID, physical int64, flags transport.Flags) (int64, error) {
	d, err := c.Descriptor(id)
	if err != nil {
		return 0, err
	}
	raw := d.Encode(physical)
	if err := c.tr.Write(ctx, d.Word, d.Offset, raw, flags); err != nil {
		return 0, err
	}
	v := d.DecodeValue(unpack(raw))
	c.set(id, v)
	return v, nil
}
