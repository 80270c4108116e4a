package sram

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) (*Codec, *transport.Memory) {
	mem := transport.NewMemory(128)
	c, err := NewCodec(mem, DefaultParams())
	require.NoError(t, err)
	return c, mem
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestRoundTripEveryDescriptor(t *testing.T) {
	for _, d := range DefaultParams() {
		if d.Kind == KindFloat {
			continue
		}
		t.Run(d.ID.String(), func(t *testing.T) {
			lo, hi := d.PhysicalRange()
			require.Less(t, lo, hi)
			step := (hi - lo) / 200
			if step == 0 {
				step = 1
			}
			for v := lo; v <= hi; v += step {
				got := d.DecodeValue(d.EncodeValue(v))
				assert.LessOrEqual(t, abs(got-v), d.Resolution(), "value %d decoded as %d", v, got)
			}
			assert.Equal(t, hi, d.DecodeValue(d.EncodeValue(hi)))
		})
	}
}

func TestFloatRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1000, 1500000, -2000000, 123456789, -7} {
		raw := floatEncode(v)
		got := floatDecode(raw)
		exp := int(int16(raw)>>11) - floatExpBias
		step := int64(math.Ceil(math.Ldexp(floatMantScale, exp)))
		assert.LessOrEqual(t, abs(got-v), step+1, "value %d decoded as %d", v, got)
	}
}

func TestFloatDecodeKnownValues(t *testing.T) {
	assert.Equal(t, int64(0), floatDecode(0x0000))
	assert.Equal(t, int64(1000000), floatDecode(0x4801))
	assert.Equal(t, int64(-1000000), floatDecode(0x4FFF))
	// Exponent field -1 shifts right by 10.
	assert.Equal(t, int64(976), floatDecode(0xF801))
	assert.Equal(t, int64(1500000), floatDecode(floatEncode(1500000)))
}

func TestVoltageWidths(t *testing.T) {
	c, _ := newTestCodec(t)

	_, err := c.Decode(VoltagePred, []byte{0x00, 0x10, 0x00})
	assert.ErrorIs(t, err, gaugeerr.ErrLengthMismatch)
	assert.True(t, gaugeerr.IsConfiguration(err))

	_, err = c.Decode(VbattFilt, []byte{0x00, 0x10})
	assert.ErrorIs(t, err, gaugeerr.ErrLengthMismatch)

	// The top bit of a 15 bit voltage is not part of the value.
	v, err := c.Decode(VoltagePred, []byte{0xFF, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, int64(8000), v)

	v15, err := c.Decode(VoltagePred, c.descs[VoltagePred].Encode(3800))
	require.NoError(t, err)
	v24, err := c.Decode(VbattFilt, c.descs[VbattFilt].Encode(3800))
	require.NoError(t, err)
	assert.Equal(t, v15, v24)
}

func TestCurrentSignAtDeclaredWidth(t *testing.T) {
	c, _ := newTestCodec(t)

	v, err := c.Decode(IbattInst, []byte{0x00, 0x80})
	require.NoError(t, err)
	assert.Equal(t, int64(-16000), v)

	v, err = c.DecodeValue(IbattFilt, 0x800000)
	require.NoError(t, err)
	assert.Equal(t, int64(-8000), v)

	// Bits above the declared width are not a sign.
	v, err = c.DecodeValue(IbattInst, 0x18000)
	require.NoError(t, err)
	assert.Equal(t, int64(-16000), v)

	v, err = c.DecodeValue(IbattFilt, 0x100000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v)

	raw, err := c.Encode(IbattFilt, -1000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xF0}, raw)
}

func TestCCSocIsNotClamped(t *testing.T) {
	c, _ := newTestCodec(t)

	v, err := c.Decode(CCSoc, []byte{0x00, 0x00, 0x00, 0x48})
	require.NoError(t, err)
	assert.Equal(t, int64(11250), v)

	v, err = c.Decode(CCSoc, []byte{0x00, 0x00, 0x00, 0xF0})
	require.NoError(t, err)
	assert.Equal(t, int64(-2500), v)
}

func TestEncodeSaturates(t *testing.T) {
	c, _ := newTestCodec(t)
	cases := []struct {
		id   ParamID
		v    int64
		want []byte
	}{
		{SlopeLimit, 1_000_000_000, []byte{0xFF}},
		{DeltaMSOCThr, -5, []byte{0x00}},
		{IbattInst, -1_000_000_000, []byte{0x00, 0x80}},
		{IbattInst, 1_000_000_000, []byte{0xFF, 0x7F}},
		{CutoffVolt, 9000, []byte{0xFF, 0x7F}},
		{EmptyVolt, 1000, []byte{0x00}},
		{BattTempHot, 600, []byte{0xB4}},
		{ESRCalTempMin, -200, []byte{0xEC}},
	}
	for _, tc := range cases {
		raw, err := c.Encode(tc.id, tc.v)
		require.NoError(t, err)
		assert.Equal(t, tc.want, raw, "%v = %d", tc.id, tc.v)
	}
}

func TestUnknownParam(t *testing.T) {
	c, _ := newTestCodec(t)
	_, err := c.Encode(ParamCount, 1)
	assert.ErrorIs(t, err, gaugeerr.ErrUnknownParam)
	_, err = c.Decode(ParamID(-1), []byte{0})
	assert.ErrorIs(t, err, gaugeerr.ErrUnknownParam)
	_, ok := c.Cached(ParamCount)
	assert.False(t, ok)
}

func TestNewCodecValidatesTable(t *testing.T) {
	mem := transport.NewMemory(4)

	_, err := NewCodec(mem, DefaultParams()[1:])
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)

	params := DefaultParams()
	params[VbattFilt].Len = 2
	_, err = NewCodec(mem, params)
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)

	params = DefaultParams()
	params[ESR].Den = 0
	_, err = NewCodec(mem, params)
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)

	params = append(DefaultParams(), DefaultParams()[0])
	_, err = NewCodec(mem, params)
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)
}

func TestReadWriteThroughTransport(t *testing.T) {
	c, mem := newTestCodec(t)
	ctx := context.Background()

	_, ok := c.Cached(FloatVolt)
	assert.False(t, ok)

	v, err := c.Write(ctx, FloatVolt, 4400, transport.AccessAtomic)
	require.NoError(t, err)
	assert.Equal(t, int64(4400), v)
	d := c.descs[FloatVolt]
	assert.Equal(t, d.Encode(4400), mem.Peek(d.Word, d.Offset, d.Len))

	cached, ok := c.Cached(FloatVolt)
	assert.True(t, ok)
	assert.Equal(t, int64(4400), cached)

	mem.Poke(94, 2, []byte{0xFF, 0x7F})
	soc, err := c.Read(ctx, MonotonicSOC)
	require.NoError(t, err)
	assert.Equal(t, int64(50), soc)

	mem.FailNext(errors.New("nack"))
	_, err = c.Write(ctx, FloatVolt, 4200, transport.AccessDefault)
	assert.ErrorIs(t, err, gaugeerr.ErrTransport)
	cached, _ = c.Cached(FloatVolt)
	assert.Equal(t, int64(4400), cached)

	require.NoError(t, c.Override(FloatVolt, 4350))
	cached, _ = c.Cached(FloatVolt)
	assert.Equal(t, int64(4350), cached)
	c.Invalidate(FloatVolt)
	_, ok = c.Cached(FloatVolt)
	assert.False(t, ok)
}

func TestParseParam(t *testing.T) {
	id, ok := ParseParam("slope-limit")
	assert.True(t, ok)
	assert.Equal(t, SlopeLimit, id)
	_, ok = ParseParam("nope")
	assert.False(t, ok)
	assert.Equal(t, "unknown", ParamCount.String())
}
