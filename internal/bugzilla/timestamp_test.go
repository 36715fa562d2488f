package bugzilla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type wireTime struct{ t time.Time }

func (w wireTime) Time() time.Time { return w.t }

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want time.Time
		ok   bool
	}{
		{"time", testCreated, testCreated, true},
		{"pointer", &testCreated, testCreated, true},
		{"nil pointer", (*time.Time)(nil), time.Time{}, false},
		{"converter", wireTime{testChanged}, testChanged, true},
		{"rfc3339", "2013-04-05T12:00:00Z", testCreated, true},
		{"xmlrpc iso8601", "20130405T12:00:00", testCreated, true},
		{"sql", "2013-04-05 12:00:00", testCreated, true},
		{"garbage", "yesterday", time.Time{}, false},
		{"nil", nil, time.Time{}, false},
		{"number", 42, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestTimestampValue(t *testing.T) {
	assert.Nil(t, timestampValue("nope"))
	assert.Equal(t, testCreated, timestampValue(testCreated))
}

func TestConvertHelpers(t *testing.T) {
	n, ok := asInt("12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok = asInt("twelve")
	assert.False(t, ok)
	n, _ = asInt(float64(7))
	assert.Equal(t, 7, n)

	assert.Equal(t, "", asString(nil))
	assert.Equal(t, "5", asString(5))
	assert.True(t, asBool("1"))
	assert.False(t, asBool(nil))
	assert.Equal(t, []string{"a", "1"}, asStrings([]any{"a", 1}))
	assert.Equal(t, []string{"a"}, asStrings("a"))
}
