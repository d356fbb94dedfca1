package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Geniusmania/ticket-chat-system/internal/conversation"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

func drain(o *outbox) []conversation.UpdateKind {
	var kinds []conversation.UpdateKind
	for {
		select {
		case f := <-o.frames:
			kinds = append(kinds, f.Kind)
		default:
			return kinds
		}
	}
}

func TestOutbox_ThreadFrameGoesFirst(t *testing.T) {
	o := newOutbox(4)

	require.True(t, o.push(serverFrame{Update: conversation.Update{Kind: conversation.UpdateDegraded}}))
	require.True(t, o.release(serverFrame{Update: conversation.Update{Kind: conversation.UpdateThread}}))
	require.True(t, o.push(serverFrame{Update: conversation.Update{Kind: conversation.UpdateTyping}}))

	assert.Equal(t, []conversation.UpdateKind{
		conversation.UpdateThread,
		conversation.UpdateDegraded,
		conversation.UpdateTyping,
	}, drain(o))
}

func TestOutbox_ReportsOverflow(t *testing.T) {
	o := newOutbox(1)
	require.True(t, o.release(serverFrame{Update: conversation.Update{Kind: conversation.UpdateThread}}))

	assert.False(t, o.push(serverFrame{Update: conversation.Update{Kind: conversation.UpdateMessage}}))
}

func TestOutbox_IgnoresPushAfterClose(t *testing.T) {
	o := newOutbox(1)
	o.release(serverFrame{Update: conversation.Update{Kind: conversation.UpdateThread}})
	o.close()
	o.close()

	assert.True(t, o.push(serverFrame{Update: conversation.Update{Kind: conversation.UpdateMessage}}))
	assert.Len(t, drain(o), 1)
}

func TestErrorFrame(t *testing.T) {
	frame := errorFrame(apperrors.NewConflict("a message is already being sent", nil))

	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":{"code":"CONFLICT","message":"a message is already being sent"}}`, string(raw))
}
