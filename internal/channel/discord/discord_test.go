package discord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplyRouterPublishWakesSubscriber(t *testing.T) {
	r := newReplyRouter()
	ch := r.subscribe("chan-1")
	r.publish("chan-1", "yes")

	select {
	case got := <-ch:
		assert.Equal(t, "yes", got)
	case <-time.After(time.Second):
		t.Fatal("expected reply to be delivered")
	}
}

func TestReplyRouterIgnoresOtherChannel(t *testing.T) {
	r := newReplyRouter()
	ch := r.subscribe("chan-1")
	r.publish("chan-2", "yes")

	select {
	case <-ch:
		t.Fatal("unexpected reply delivered to wrong channel")
	case <-time.After(50 * time.Millisecond):
	}
}
