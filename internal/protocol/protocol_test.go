package protocol

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressMatch(t *testing.T) {
	exact := Address{GID: "g1", UID: "u1"}
	assert.Equal(t, ExactMatch, exact.Match("g1", "u1"))
	assert.Equal(t, NoMatch, exact.Match("g1", "u2"))
	assert.Equal(t, NoMatch, exact.Match("g2", "u1"))

	groupWild := Address{GID: "g1"}
	assert.Equal(t, WildcardMatch, groupWild.Match("g1", "u9"))
	assert.Equal(t, NoMatch, groupWild.Match("g2", "u9"))

	allWild := Address{}
	assert.Equal(t, WildcardMatch, allWild.Match("g9", "u9"))
}

func TestKVRoundTrip(t *testing.T) {
	cases := []Record{
		&Register{Base: Base{Address{GID: "g1", UID: "u1"}, KindRegister}, Role: "mount"},
		&MountStatus{
			Base: Base{Address{GID: "g1", UID: "u1"}, KindMountStatus},
			UTC:  "2026-01-01T00:00:00Z", State: "Tracking", ErrCode: 0,
			RA: 120.5, Dec: -30.25, Azi: 10, Alt: 45,
		},
		&SlewTo{Base: Base{Address{GID: "g1", UID: "u1"}, KindSlewTo}, CoorSys: CoorEquatorial, Coor1: 10.5, Coor2: -5.25},
		&Track{Base: Base{Address{GID: "g1", UID: "u1"}, KindTrack}, ObjectName: "ISS", Line1: "1 25544U", Line2: "2 25544"},
		&TakeImage{Base: Base{Address{GID: "g1", UID: "u1", CID: "c1"}, KindTakeImage}, ImageType: "light", ExpDur: 30, FrameCnt: 3},
		&Guide{Base: Base{Address{GID: "g1", UID: "u1"}, KindGuide}, DRA: 1.5, DDec: -2.5},
		&MirrorCover{Base: Base{Address{GID: "g1", UID: "u1"}, KindMirrorCover}, Open: true},
	}

	for _, rec := range cases {
		line := EncodeKV(rec)
		got, err := DecodeKV(line)
		require.NoError(t, err, "line=%q", line)
		assert.Equal(t, rec, got, "round-trip mismatch for %q", line)
	}
}

func TestKVDecodeMalformedPair(t *testing.T) {
	_, err := DecodeKV("mount-status gid=g1;uid=u1")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
}

func TestKVDecodeUnknownType(t *testing.T) {
	_, err := DecodeKV("frobnicate gid=g1,uid=u1")
	require.Error(t, err)
}

func TestAnnexFocusBoundary(t *testing.T) {
	// +99999 (five digits) parses.
	rec, err := DecodeAnnex("g#g01u01focusc01+99999%")
	require.NoError(t, err)
	fs, ok := rec.(*FocusStatus)
	require.True(t, ok)
	assert.Equal(t, 99999, fs.Position)

	// A six-digit magnitude is malformed.
	_, err = DecodeAnnex("g#g01u01focusc01+999999%")
	require.Error(t, err)
}

func TestAnnexFocusEncodeDecodeRoundTrip(t *testing.T) {
	line := EncodeAnnexFocus("g01", "u01", "c01", -4321)
	rec, err := DecodeAnnex(line)
	require.NoError(t, err)
	fs, ok := rec.(*FocusStatus)
	require.True(t, ok)
	assert.Equal(t, -4321, fs.Position)
	assert.Equal(t, "g01", fs.GID)
	assert.Equal(t, "u01", fs.UID)
	assert.Equal(t, "c01", fs.CID)
}

func TestAnnexSlitRoundTrip(t *testing.T) {
	line := EncodeAnnexSlitCommand("g01", "u01", 1)
	rec, err := DecodeAnnex(line)
	require.NoError(t, err)
	slit, ok := rec.(*Slit)
	require.True(t, ok)
	assert.Equal(t, 1, slit.Command)
	assert.Equal(t, "g01", slit.GID)
}

func TestAnnexRainRoundTrip(t *testing.T) {
	line := EncodeAnnexRain(7)
	rec, err := DecodeAnnex(line)
	require.NoError(t, err)
	rain, ok := rec.(*Rain)
	require.True(t, ok)
	assert.Equal(t, 7, rain.Value)
}

func TestAnnexFwhmRoundTrip(t *testing.T) {
	line := EncodeAnnexFwhm("g01", "u01", "c01", 3.21)
	rec, err := DecodeAnnex(line)
	require.NoError(t, err)
	fw, ok := rec.(*Fwhm)
	require.True(t, ok)
	assert.InDelta(t, 3.21, fw.Value, 0.01)
}

func TestAnnexMissingDelimiters(t *testing.T) {
	_, err := DecodeAnnex("rain3")
	require.Error(t, err)
}

func TestFramerSplitsLines(t *testing.T) {
	src := "register gid=g1,uid=u1,role=mount\r\nhome-sync gid=g1,uid=u1\n"
	f := NewFramer(strings.NewReader(src))

	line1, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, "register gid=g1,uid=u1,role=mount", line1)

	line2, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, "home-sync gid=g1,uid=u1", line2)

	_, err = f.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramerRejectsOversizedMessage(t *testing.T) {
	huge := strings.Repeat("x", MaxMessageSize+1) + "\n"
	f := NewFramer(strings.NewReader(huge))
	_, err := f.Next()
	assert.ErrorIs(t, err, ErrFrameTooLong)
}

func TestFramerRejectsOversizedMessageWithoutNewline(t *testing.T) {
	huge := strings.Repeat("x", MaxMessageSize+1)
	f := NewFramer(strings.NewReader(huge))
	_, err := f.Next()
	assert.ErrorIs(t, err, ErrFrameTooLong)
}

// TestFramerAccumulatesAcrossShortReads uses a small bufio buffer (bufio
// rounds it up to its 16-byte minimum) so ReadSlice returns the line in
// more than one piece and the framer's accumulation loop, not bufio's
// single internal buffer, is what is actually under test.
func TestFramerAccumulatesAcrossShortReads(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("park gid=g1,uid=u1\n"), 4)
	f := &Framer{r: r}
	line, err := f.Next()
	require.NoError(t, err)
	assert.Equal(t, "park gid=g1,uid=u1", line)
}
