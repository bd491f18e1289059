package anthropic

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient scripts GetBatch responses for polling tests.
type fakeClient struct {
	batches []BatchResponse
	calls   int
	err     error
}

func (f *fakeClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	return nil, eris.New("not implemented")
}

func (f *fakeClient) CreateBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	return nil, eris.New("not implemented")
}

func (f *fakeClient) GetBatch(ctx context.Context, batchID string) (*BatchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	if i >= len(f.batches) {
		i = len(f.batches) - 1
	}
	f.calls++
	b := f.batches[i]
	return &b, nil
}

func (f *fakeClient) GetBatchResults(ctx context.Context, batchID string) (BatchResultIterator, error) {
	return nil, eris.New("not implemented")
}

// fakeIterator yields a fixed slice of results.
type fakeIterator struct {
	items  []BatchResultItem
	pos    int
	err    error
	closed bool
}

func (f *fakeIterator) Next() bool {
	if f.pos >= len(f.items) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeIterator) Item() BatchResultItem { return f.items[f.pos-1] }
func (f *fakeIterator) Err() error            { return f.err }
func (f *fakeIterator) Close() error          { f.closed = true; return nil }

func TestPollBatchEnds(t *testing.T) {
	client := &fakeClient{batches: []BatchResponse{
		{ID: "b1", ProcessingStatus: "in_progress"},
		{ID: "b1", ProcessingStatus: "in_progress"},
		{ID: "b1", ProcessingStatus: "ended"},
	}}

	batch, err := PollBatch(context.Background(), client, "b1",
		WithPollInterval(time.Millisecond), WithPollCap(2*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "ended", batch.ProcessingStatus)
	assert.Equal(t, 3, client.calls)
}

func TestPollBatchExpired(t *testing.T) {
	client := &fakeClient{batches: []BatchResponse{
		{ID: "b1", ProcessingStatus: "expired"},
	}}

	batch, err := PollBatch(context.Background(), client, "b1", WithPollInterval(time.Millisecond))
	require.Error(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, "expired", batch.ProcessingStatus)
}

func TestPollBatchTimeout(t *testing.T) {
	client := &fakeClient{batches: []BatchResponse{
		{ID: "b1", ProcessingStatus: "in_progress"},
	}}

	_, err := PollBatch(context.Background(), client, "b1",
		WithPollInterval(5*time.Millisecond), WithPollTimeout(20*time.Millisecond))
	require.Error(t, err)
}

func TestCollectBatchResults(t *testing.T) {
	iter := &fakeIterator{items: []BatchResultItem{
		{CustomID: "1", Type: "succeeded", Message: &MessageResponse{Content: []ContentBlock{{Type: "text", Text: "a"}}}},
		{CustomID: "2", Type: "errored"},
		{CustomID: "3", Type: "succeeded", Message: &MessageResponse{Content: []ContentBlock{{Type: "text", Text: "b"}}}},
		{CustomID: "4", Type: "expired"},
	}}

	result, err := CollectBatchResults(iter)
	require.NoError(t, err)
	assert.True(t, iter.closed)
	assert.Len(t, result.Succeeded, 2)
	assert.Equal(t, "a", result.Succeeded["1"].Text())
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "2", result.Failures[0].CustomID)
	assert.Equal(t, "expired", result.Failures[1].Type)
}

func TestCollectBatchResultsIteratorError(t *testing.T) {
	iter := &fakeIterator{err: eris.New("stream broken")}
	_, err := CollectBatchResults(iter)
	require.Error(t, err)
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("system prompt")
	require.Len(t, blocks, 1)
	assert.Equal(t, "system prompt", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "hello "},
		{Type: "thinking", Text: "ignored"},
		{Type: "text", Text: "world"},
	}}
	assert.Equal(t, "hello world", resp.Text())
}
