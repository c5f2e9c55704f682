package transports

import "io"

// StreamResult is a lazily-consumed sequence of call results. Next returns
// io.EOF after the final element; Close is idempotent and releases the
// underlying connection.
type StreamResult interface {
	Next() (interface{}, error)
	Close() error
}

// SliceStreamResult replays a fixed slice of items.
type SliceStreamResult struct {
	items   []interface{}
	index   int
	closeFn func() error
}

// NewSliceStreamResult wraps items in a StreamResult.
func NewSliceStreamResult(items []interface{}, closeFn func() error) *SliceStreamResult {
	return &SliceStreamResult{items: items, closeFn: closeFn}
}

func (sr *SliceStreamResult) Next() (interface{}, error) {
	if sr.index >= len(sr.items) {
		return nil, io.EOF
	}
	item := sr.items[sr.index]
	sr.index++
	return item, nil
}

func (sr *SliceStreamResult) Close() error {
	if sr.closeFn != nil {
		fn := sr.closeFn
		sr.closeFn = nil
		return fn()
	}
	return nil
}

// ChannelStreamResult adapts a channel fed by a producer goroutine. Error
// values sent on the channel terminate the stream with that error.
type ChannelStreamResult struct {
	ch      <-chan interface{}
	closeFn func() error
	closed  bool
}

// NewChannelStreamResult constructs a StreamResult over ch.
func NewChannelStreamResult(ch <-chan interface{}, closeFn func() error) *ChannelStreamResult {
	return &ChannelStreamResult{ch: ch, closeFn: closeFn}
}

func (sr *ChannelStreamResult) Next() (interface{}, error) {
	item, ok := <-sr.ch
	if !ok {
		return nil, io.EOF
	}
	if err, isErr := item.(error); isErr {
		return nil, err
	}
	return item, nil
}

func (sr *ChannelStreamResult) Close() error {
	if sr.closed {
		return nil
	}
	sr.closed = true
	if sr.closeFn != nil {
		return sr.closeFn()
	}
	return nil
}

// Drain reads a stream to completion and returns its elements. Byte-chunk
// streams are concatenated into one []byte; anything else becomes a list
// (unwrapped when it holds a single element).
func Drain(sr StreamResult) (interface{}, error) {
	defer sr.Close()

	var items []interface{}
	hasBytes := false
	for {
		item, err := sr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, ok := item.([]byte); ok {
			hasBytes = true
		}
		items = append(items, item)
	}

	if hasBytes {
		var joined []byte
		for _, item := range items {
			if b, ok := item.([]byte); ok {
				joined = append(joined, b...)
			}
		}
		return joined, nil
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return items, nil
}
