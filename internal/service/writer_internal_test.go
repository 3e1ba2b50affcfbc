package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestLineWriter(t *testing.T) {
	t.Parallel()
	var got []string
	w := newLineWriter(func(s string) { got = append(got, s) })

	for _, chunk := range []string{"hel", "lo\nwor", "ld\r\n", "\n", "partial"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}
	require.Equal(t, []string{"hello", "world", ""}, got)

	w.Flush()
	require.Equal(t, []string{"hello", "world", "", "partial"}, got)
	w.Flush()
	require.Len(t, got, 4)
}

func TestLineWriter_InvalidUTF8(t *testing.T) {
	t.Parallel()
	var got []string
	w := newLineWriter(func(s string) { got = append(got, s) })
	_, err := w.Write([]byte("美\xff食\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"美�食"}, got)
}

func TestLineWriter_Long(t *testing.T) {
	t.Parallel()
	var got []string
	w := newLineWriter(func(s string) { got = append(got, s) })

	long := strings.Repeat("a", MaxLineBytes*2+10)
	_, err := w.Write([]byte(long + "\nb\n"))
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Len(t, got[0], MaxLineBytes)
	require.Len(t, got[1], MaxLineBytes)
	require.Equal(t, "aaaaaaaaaa", got[2])
	require.Equal(t, "b", got[3])
}

func TestLineWriter_LongMultibyte(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		scenario string
		chunks   int
	}{
		{"one write", 1},
		{"byte by byte", 0},
	} {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			var got []string
			w := newLineWriter(func(s string) { got = append(got, s) })

			// "ab" shifts the 3 byte runes so MaxLineBytes falls inside one
			line := "ab" + strings.Repeat("中", MaxLineBytes/3+10)
			in := []byte(line + "\n")
			if tc.chunks == 1 {
				_, err := w.Write(in)
				require.NoError(t, err)
			} else {
				for i := range in {
					_, err := w.Write(in[i : i+1])
					require.NoError(t, err)
				}
			}

			require.Len(t, got, 2)
			for _, l := range got {
				require.True(t, utf8.ValidString(l))
				require.NotContains(t, l, "�")
				require.LessOrEqual(t, len(l), MaxLineBytes)
			}
			require.Equal(t, line, got[0]+got[1])
		})
	}
}
