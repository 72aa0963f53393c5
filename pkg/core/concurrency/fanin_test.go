package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFanIn_ClosesWhenLastProducerCloses(t *testing.T) {
	root, consumer := NewFanIn[int]()

	a, err := root.Clone()
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	b, _ := root.Clone()

	// Only the workers keep the channel open
	root.Close()
	if consumer.Producers() != 2 {
		t.Errorf("Producers() = %d, want 2", consumer.Producers())
	}

	a.Send(1)
	b.Send(2)
	a.Close()

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		got, err := consumer.Receive(ctx)
		if err != nil || got != want {
			t.Fatalf("Receive() = (%d, %v), want (%d, nil)", got, err, want)
		}
	}

	received := make(chan error, 1)
	go func() {
		_, err := consumer.Receive(ctx)
		received <- err
	}()

	select {
	case <-received:
		t.Fatal("Receive() returned while a producer is still open")
	case <-time.After(20 * time.Millisecond):
	}

	b.Close()

	select {
	case err := <-received:
		if err != ErrMailboxClosed {
			t.Errorf("Receive() error = %v, want ErrMailboxClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive() still blocked after last producer closed")
	}
}

func TestFanIn_ProducerClose(t *testing.T) {
	root, _ := NewFanIn[string]()

	root.Close()
	root.Close() // idempotent

	if err := root.Send("x"); err != ErrProducerClosed {
		t.Errorf("Send() after Close() error = %v, want ErrProducerClosed", err)
	}
	if _, err := root.Clone(); err != ErrProducerClosed {
		t.Errorf("Clone() after Close() error = %v, want ErrProducerClosed", err)
	}
}

func TestFanIn_CloneRacesClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		root, consumer := NewFanIn[int]()

		var clone *Producer[int]
		var cloneErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			clone, cloneErr = root.Clone()
		}()
		go func() {
			defer wg.Done()
			root.Close()
		}()
		wg.Wait()

		if cloneErr == nil {
			// the clone won: the channel must still be open until it closes
			if err := clone.Send(i); err != nil {
				t.Fatalf("iteration %d: Send() on live clone error = %v", i, err)
			}
			clone.Close()
			if got, err := consumer.Receive(context.Background()); err != nil || got != i {
				t.Fatalf("iteration %d: Receive() = %v, %v", i, got, err)
			}
		} else if cloneErr != ErrProducerClosed {
			t.Fatalf("iteration %d: Clone() error = %v", i, cloneErr)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if _, err := consumer.Receive(ctx); err != ErrMailboxClosed {
			t.Fatalf("iteration %d: Receive() after all closed error = %v, want ErrMailboxClosed", i, err)
		}
		cancel()
	}
}

func TestFanIn_ConsumerGone(t *testing.T) {
	root, consumer := NewFanIn[string]()
	defer root.Close()

	root.Send("pending-1")
	root.Send("pending-2")

	if dropped := consumer.Close(); dropped != 2 {
		t.Errorf("Close() dropped = %d, want 2", dropped)
	}
	if dropped := consumer.Close(); dropped != 0 {
		t.Errorf("second Close() dropped = %d, want 0", dropped)
	}

	if err := root.Send("late"); err != ErrConsumerGone {
		t.Errorf("Send() after consumer Close() error = %v, want ErrConsumerGone", err)
	}
}

func TestFanIn_ManyProducers(t *testing.T) {
	root, consumer := NewFanIn[int]()

	const producers = 6
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		h, err := root.Clone()
		if err != nil {
			t.Fatalf("Clone() error = %v", err)
		}
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			defer h.Close()
			for i := 0; i < perProducer; i++ {
				if err := h.Send(base + i); err != nil {
					t.Errorf("Send() error = %v", err)
					return
				}
			}
		}(p * perProducer)
	}
	root.Close()

	count := 0
	for {
		_, err := consumer.Receive(context.Background())
		if err != nil {
			break
		}
		count++
	}
	wg.Wait()

	if count != producers*perProducer {
		t.Errorf("received %d messages, want %d", count, producers*perProducer)
	}
}
