package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	at := time.UnixMilli(1767225600000)
	return func() time.Time { return at }
}

func openTemp(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "audit-log.jsonl")
	l, err := Open(path, WithClock(fixedClock()))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestChecksum_Format(t *testing.T) {
	got := Checksum(1, 1000, "EVT", "a=b", Genesis)
	// sha256("1|1000|EVT|a=b|GENESIS")
	assert.Len(t, got, 64)
	assert.Equal(t, strings.ToLower(got), got)
	assert.Equal(t, got, Checksum(1, 1000, "EVT", "a=b", Genesis))
	assert.NotEqual(t, got, Checksum(1, 1000, "EVT", "a=c", Genesis))
}

func TestOpen_CreatesEmptyFile(t *testing.T) {
	l, path := openTemp(t)

	_, err := os.Stat(path)
	require.NoError(t, err)

	next, head := l.Head()
	assert.Equal(t, int64(1), next)
	assert.Equal(t, Genesis, head)
}

func TestAppend_BuildsChain(t *testing.T) {
	l, path := openTemp(t)

	first, err := l.Append("VEHICLE_REGISTERED", "vehicleId=v1, type=E_SCOOTER")
	require.NoError(t, err)
	second, err := l.Append("STATE_CHANGE", "vehicleId=v1, AVAILABLE->RESERVED, reason=reserve")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, Genesis, first.PreviousChecksum)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, first.Checksum, second.PreviousChecksum)
	assert.Equal(t, Checksum(2, second.Timestamp, second.Event, second.Details, first.Checksum), second.Checksum)

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0])
	assert.Equal(t, second, entries[1])
}

func TestAppend_LineFormat(t *testing.T) {
	l, path := openTemp(t)
	_, err := l.Append("PAYMENT", "total=15.0")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(raw), "\n"))

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"id", "timestamp", "event", "details", "previousChecksum", "checksum"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, float64(1767225600000), fields["timestamp"])
}

func TestOpen_ReplayContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-log.jsonl")

	l, err := Open(path, WithClock(fixedClock()))
	require.NoError(t, err)
	_, err = l.Append("A", "one")
	require.NoError(t, err)
	last, err := l.Append("B", "two")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(path, WithClock(fixedClock()))
	require.NoError(t, err)
	defer reopened.Close()

	next, head := reopened.Head()
	assert.Equal(t, int64(3), next)
	assert.Equal(t, last.Checksum, head)

	third, err := reopened.Append("C", "three")
	require.NoError(t, err)
	assert.Equal(t, int64(3), third.ID)
	assert.Equal(t, last.Checksum, third.PreviousChecksum)

	n, err := VerifyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpen_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-log.jsonl")
	l, err := Open(path, WithClock(fixedClock()))
	require.NoError(t, err)
	_, err = l.Append("A", "one")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n   \n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	next, _ := reopened.Head()
	assert.Equal(t, int64(2), next)
}

// writeChain appends n entries and returns the raw lines.
func writeChain(t *testing.T, path string, n int) []string {
	t.Helper()
	l, err := Open(path, WithClock(fixedClock()))
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := l.Append("EVT", fmt.Sprintf("n=%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
}

func rewrite(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func TestOpen_DetectsTamperedDetails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-log.jsonl")
	lines := writeChain(t, path, 3)

	lines[1] = strings.Replace(lines[1], "n=2", "n=9", 1)
	rewrite(t, path, lines)

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, int64(2), ie.ID)
	assert.Equal(t, 2, ie.Line)
	assert.Equal(t, "checksum mismatch", ie.Reason)
}

func TestOpen_DetectsIDGap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-log.jsonl")
	lines := writeChain(t, path, 3)

	rewrite(t, path, []string{lines[0], lines[2]})

	_, err := Open(path)
	require.Error(t, err)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Reason, "id gap")
}

func TestOpen_DetectsBrokenLink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-log.jsonl")
	lines := writeChain(t, path, 2)

	// Re-hash entry 2 against a forged predecessor so only the link breaks.
	var e Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	e.PreviousChecksum = strings.Repeat("0", 64)
	e.Checksum = Checksum(e.ID, e.Timestamp, e.Event, e.Details, e.PreviousChecksum)
	forged, err := json.Marshal(e)
	require.NoError(t, err)
	lines[1] = string(forged)
	rewrite(t, path, lines)

	_, err = Open(path)
	require.Error(t, err)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "previous checksum does not match chain", ie.Reason)
}

func TestOpen_DetectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-log.jsonl")
	lines := writeChain(t, path, 2)
	rewrite(t, path, append(lines, `{"id":3,"timest`))

	_, err := Open(path)
	require.Error(t, err)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, ie.Line)
	assert.Equal(t, "malformed entry", ie.Reason)
}

func TestAppend_NormalizesDetails(t *testing.T) {
	l, _ := openTemp(t)

	// "e" + combining acute accent normalizes to a single code point.
	e, err := l.Append("NOTE", "cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", e.Details)
}

func TestAppend_AfterClose(t *testing.T) {
	l, _ := openTemp(t)
	require.NoError(t, l.Close())

	_, err := l.Append("A", "b")
	assert.Error(t, err)
}

func TestAppend_ConcurrentWritersKeepChain(t *testing.T) {
	l, path := openTemp(t)

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := l.Append("EVT", fmt.Sprintf("writer=%d, i=%d", w, i))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	n, err := VerifyFile(path)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, n)
}

func TestVerify_Empty(t *testing.T) {
	assert.NoError(t, Verify(nil))
}
