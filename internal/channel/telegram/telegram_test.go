package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplyRouterPublishWakesSubscriber(t *testing.T) {
	r := newReplyRouter()
	ch := r.subscribe("123")
	r.publish("123", "yes")

	select {
	case got := <-ch:
		assert.Equal(t, "yes", got)
	case <-time.After(time.Second):
		t.Fatal("expected reply to be delivered")
	}
}

func TestReplyRouterPublishIgnoresOtherChat(t *testing.T) {
	r := newReplyRouter()
	ch := r.subscribe("123")
	r.publish("456", "yes")

	select {
	case <-ch:
		t.Fatal("unexpected reply delivered to wrong chat")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReplyRouterUnsubscribeStopsDelivery(t *testing.T) {
	r := newReplyRouter()
	ch := r.subscribe("123")
	r.unsubscribe("123", ch)
	r.publish("123", "yes")

	select {
	case <-ch:
		t.Fatal("unsubscribed channel should not receive")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTranscribeVoiceSkipsWithoutProxyConfigured(t *testing.T) {
	tr := &Transport{cfg: Config{}}
	text, err := tr.transcribeVoice(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, "", text)
}
