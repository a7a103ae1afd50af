package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	subscribeTimeout = 5 * time.Second
	commandQueue     = 10
)

// Command is a control plane request.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response answers one Command on the response topic.
type Response struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Callbacks implement the control commands. A nil callback answers with
// "not implemented".
type Callbacks struct {
	OnGetStatus    func() any
	OnListControls func() any
	OnSetControls  func(controls map[string]any) error
}

// Handler executes control commands received on an MQTT topic and
// publishes each Response to the topic with "/response" appended.
type Handler struct {
	em        *Emitter
	topic     string
	callbacks Callbacks
	commands  chan Command

	stopOnce sync.Once
	done     chan struct{}
}

func NewHandler(em *Emitter, topic string, callbacks Callbacks) *Handler {
	return &Handler{
		em:        em,
		topic:     topic,
		callbacks: callbacks,
		commands:  make(chan Command, commandQueue),
		done:      make(chan struct{}),
	}
}

// ResponseTopic is where responses are published.
func (h *Handler) ResponseTopic() string { return h.topic + "/response" }

// Start subscribes to the control topic and processes commands until ctx
// is done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	slog.Info("telemetry: subscribing to control plane", "topic", h.topic)

	token := h.em.client.Subscribe(h.topic, 1, h.messageHandler)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("telemetry: control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes. Idempotent.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		if h.em.client.IsConnected() {
			h.em.client.Unsubscribe(h.topic).WaitTimeout(subscribeTimeout)
		}
		close(h.done)
		slog.Info("telemetry: control plane handler stopped", "topic", h.topic)
	})
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("telemetry: failed to parse control command", "error", err)
		h.respond(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	slog.Info("telemetry: control command received", "command", cmd.Command)
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("telemetry: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.respond(h.handleCommand(cmd))
		}
	}
}

func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}
	fail := func(msg string) Response {
		resp.Status, resp.Error = "error", msg
		return resp
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return fail("get_status not implemented")
		}
		resp.Data = h.callbacks.OnGetStatus()

	case "list_controls":
		if h.callbacks.OnListControls == nil {
			return fail("list_controls not implemented")
		}
		resp.Data = h.callbacks.OnListControls()

	case "set_controls":
		if h.callbacks.OnSetControls == nil {
			return fail("set_controls not implemented")
		}
		if len(cmd.Params) == 0 {
			return fail("missing 'params' (expected control name to value)")
		}
		if err := h.callbacks.OnSetControls(cmd.Params); err != nil {
			return fail(err.Error())
		}
		resp.Data = map[string]any{"staged": len(cmd.Params)}

	default:
		return fail(fmt.Sprintf("unknown command %q", cmd.Command))
	}
	return resp
}

func (h *Handler) respond(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("telemetry: failed to marshal response", "command", resp.CommandAck, "error", err)
		return
	}
	if err := h.em.Publish(h.ResponseTopic(), payload); err != nil {
		slog.Warn("telemetry: response not published", "command", resp.CommandAck, "error", err)
	}
}
