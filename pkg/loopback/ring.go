// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package loopback

import "errors"

var errClosed = errors.New("radio closed")

const ringCapacity = 16

// ringBuffer is a bounded FIFO that overwrites the oldest packet when full.
type ringBuffer struct {
	data       [ringCapacity]packet
	head, tail int
	count      int
}

func (rb *ringBuffer) push(p packet) {
	if rb.count == ringCapacity {
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = p
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) pop() (packet, bool) {
	if rb.count == 0 {
		return packet{}, false
	}
	p := rb.data[rb.head]
	rb.data[rb.head] = packet{}
	rb.head = (rb.head + 1) % ringCapacity
	rb.count--
	return p, true
}

func (rb *ringBuffer) reset() {
	*rb = ringBuffer{}
}

func (rb *ringBuffer) snapshot() []packet {
	out := make([]packet, 0, rb.count)
	for i, c := rb.head, 0; c < rb.count; c++ {
		out = append(out, rb.data[i])
		i = (i + 1) % ringCapacity
	}
	return out
}
