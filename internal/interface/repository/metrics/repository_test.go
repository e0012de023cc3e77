package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"forwardproxy/internal/domain"
)

func TestRecordRequestAndRPM(t *testing.T) {
	r := New(60)
	for i := 0; i < 9; i++ {
		r.RecordRequest("a.com")
	}
	assert.Equal(t, uint64(9), r.RPM())
}

func TestRecordRequestEmptyDomainFoldsToUnknown(t *testing.T) {
	r := New(60)
	r.RecordRequest("")
	top := r.TopK(5)
	assert.Len(t, top, 1)
	assert.Equal(t, "unknown", top[0].Domain)
}

func TestTopKOrderingAndTruncation(t *testing.T) {
	r := New(60)
	for i := 0; i < 5; i++ {
		r.RecordRequest("a.com")
	}
	for i := 0; i < 3; i++ {
		r.RecordRequest("b.com")
	}
	r.RecordRequest("c.com")

	top := r.TopK(5)
	assert.Equal(t, []domain.DomainCount{
		{Domain: "a.com", Count: 5}, {Domain: "b.com", Count: 3}, {Domain: "c.com", Count: 1},
	}, top)

	assert.LessOrEqual(t, len(r.TopK(2)), 2)
}

func TestTopKTieBreakIsInsertionOrder(t *testing.T) {
	r := New(60)
	r.RecordRequest("second.com")
	r.RecordRequest("first.com")
	r.RecordRequest("second.com")
	r.RecordRequest("first.com")

	top := r.TopK(5)
	assert.Equal(t, []domain.DomainCount{
		{Domain: "second.com", Count: 2}, {Domain: "first.com", Count: 2},
	}, top)
}

func TestRotatorZeroesWindowAfterSilence(t *testing.T) {
	r := New(1)
	r.Start()
	defer r.Stop()

	r.RecordRequest("a.com")
	assert.Equal(t, uint64(1), r.RPM())

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, uint64(0), r.RPM())
}
