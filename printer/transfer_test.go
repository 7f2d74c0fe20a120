package printer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/john/beeprint/gcode"
)

func TestTransferPercentMonotonic(t *testing.T) {
	dev := newFakeDevice()
	dev.uploadGate = make(chan struct{})
	s, _ := openSession(dev)

	payload := bytes.Repeat([]byte("G1 X1\n"), 1000) // 6000 bytes, 6 blocks
	tr, err := s.BeginTransfer(context.Background(), NewTransferJob("part.gcode", FixedDeviceFilename(""), payload, nil))
	if err != nil {
		t.Fatalf("BeginTransfer: %v", err)
	}

	if _, ok := tr.CompletionPercent(); ok {
		t.Error("percent must be absent before the first block")
	}
	if !tr.IsTransferring() {
		t.Error("expected transfer in progress")
	}

	last := -1.0
	hundreds := 0
	for i := 0; i < 6; i++ {
		dev.uploadGate <- struct{}{}
		time.Sleep(2 * time.Millisecond)
		p, ok := tr.CompletionPercent()
		if !ok {
			continue
		}
		if p < last {
			t.Fatalf("percent went down: %v -> %v", last, p)
		}
		if p == 100 {
			hundreds++
		}
		last = p
	}

	if err := tr.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	p, ok := tr.CompletionPercent()
	if !ok || p != 100 {
		t.Errorf("final percent = %v, %v", p, ok)
	}
	if tr.State() != TransferComplete {
		t.Errorf("state = %v", tr.State())
	}
	if hundreds > 1 {
		t.Errorf("observed 100 before completion")
	}
	if _, ok := dev.uploaded["abcde"]; !ok {
		t.Errorf("uploaded under %v", dev.uploaded)
	}
}

func TestTransferFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.uploadErr = errors.New("write: input/output error")
	dev.uploadBlocks = 2
	s, _ := openSession(dev)

	payload := bytes.Repeat([]byte("x"), 5000)
	tr, err := s.BeginTransfer(context.Background(), NewTransferJob("p.gcode", FixedDeviceFilename(""), payload, nil))
	if err != nil {
		t.Fatal(err)
	}
	err = tr.Wait(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if tr.State() != TransferFailed || tr.IsTransferring() {
		t.Errorf("state = %v", tr.State())
	}
	p, ok := tr.CompletionPercent()
	if !ok || p >= 100 {
		t.Errorf("failed transfer percent = %v, %v", p, ok)
	}
}

func TestTransferHoldsWire(t *testing.T) {
	dev := newFakeDevice()
	dev.uploadGate = make(chan struct{})
	s, _ := openSession(dev)

	tr, err := s.BeginTransfer(context.Background(), NewTransferJob("p.gcode", FixedDeviceFilename(""), []byte("G28\n"), nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Command(context.Background(), "M105"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}
	if _, err := s.BeginTransfer(context.Background(), NewTransferJob("q.gcode", FixedDeviceFilename(""), nil, nil)); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second transfer: expected ErrSessionBusy, got %v", err)
	}
	if got := s.Poll(context.Background()).Status; got != StatusTransferring {
		t.Errorf("poll during transfer = %v", got)
	}

	close(dev.uploadGate)
	if err := tr.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Command(context.Background(), "M105"); err != nil {
		t.Errorf("command after transfer: %v", err)
	}
}

func TestNewTransferJobHeader(t *testing.T) {
	meta := gcode.Metadata{Lines: 3, EstimatedTime: 120}
	job := NewTransferJob("p.gcode", FixedDeviceFilename(""), []byte("G28\n"), &meta)
	if !gcode.HasHeader(job.Payload) {
		t.Error("expected header")
	}
	plain := NewTransferJob("p.gcode", FixedDeviceFilename(""), []byte("G28\n"), nil)
	if string(plain.Payload) != "G28\n" {
		t.Errorf("payload = %q", plain.Payload)
	}
}
