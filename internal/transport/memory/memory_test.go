package memory

import (
	"context"
	"regexp"
	"testing"

	"kubot/internal/module"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_SendEditDelete(t *testing.T) {
	tr := New()
	ctx := context.Background()

	id, err := tr.SendMessage(ctx, 10, "hello")
	require.NoError(t, err)

	require.NoError(t, tr.EditMessage(ctx, 10, id, "edited"))
	msg, ok := tr.Message(10, id)
	require.True(t, ok)
	assert.Equal(t, "edited", msg.Text)
	assert.Equal(t, 1, msg.Edits)

	require.NoError(t, tr.DeleteMessage(ctx, 10, id))
	assert.Empty(t, tr.Sent(10))
	assert.Error(t, tr.EditMessage(ctx, 10, id, "again"))
}

func TestTransport_EmitMatchesFilters(t *testing.T) {
	tr := New()
	var all, pings, outgoing int

	tr.On(module.EventFilter{}, func(context.Context, *module.Event) { all++ })
	h := tr.On(module.EventFilter{Pattern: regexp.MustCompile(`^ping`)}, func(context.Context, *module.Event) { pings++ })
	tr.On(module.EventFilter{Outgoing: true}, func(context.Context, *module.Event) { outgoing++ })

	tr.Emit(context.Background(), &module.Event{ChatID: 1, RawText: "ping"})
	tr.Emit(context.Background(), &module.Event{ChatID: 1, RawText: "other", Outgoing: true})

	assert.Equal(t, 2, all)
	assert.Equal(t, 1, pings)
	assert.Equal(t, 1, outgoing)

	assert.True(t, tr.RemoveHandler(h))
	assert.False(t, tr.RemoveHandler(h))
	assert.Equal(t, 2, tr.Handlers())
}

func TestTransport_DownloadFile(t *testing.T) {
	tr := New()
	tr.AddFile("f1", []byte("0123456789"))

	data, err := tr.DownloadFile(context.Background(), "f1", 0)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	_, err = tr.DownloadFile(context.Background(), "f1", 5)
	assert.Error(t, err)

	_, err = tr.DownloadFile(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestTransport_KeyboardsAndCallbacks(t *testing.T) {
	tr := New()
	ctx := context.Background()

	kb := module.Keyboard{module.Row(module.Button{Text: "A", Data: "a"})}
	id, err := tr.SendKeyboard(ctx, 1, "menu", kb)
	require.NoError(t, err)

	msg, _ := tr.Message(1, id)
	assert.Equal(t, kb, msg.Keyboard)

	require.NoError(t, tr.EditKeyboard(ctx, 1, id, "menu 2", nil))
	msg, _ = tr.Message(1, id)
	assert.Equal(t, "menu 2", msg.Text)
	assert.Nil(t, msg.Keyboard)

	var got []string
	tr.OnCallback(func(_ context.Context, cb *module.Callback) { got = append(got, cb.Data) })
	tr.Press(ctx, &module.Callback{ID: "c1", ChatID: 1, MessageID: id, Data: "a"})
	assert.Equal(t, []string{"a"}, got)

	require.NoError(t, tr.AnswerCallback(ctx, "c1", "ok"))
	assert.Equal(t, []string{"c1:ok"}, tr.Answers())
}
