package notify

import (
	"fmt"
	"sync"

	"clinicqueue/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const outboxSize = 64

// TelegramSender is the subset of the bot API used for notifications.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier announces queue progress to a Telegram chat, e.g. a
// waiting-room channel. Messages are sent from one goroutine so the queue is
// never blocked on the network.
type TelegramNotifier struct {
	sender TelegramSender
	chatID int64
	logger *zerolog.Logger

	mu     sync.Mutex
	closed bool
	outbox chan string
	done   chan struct{}
}

// NewTelegramNotifier connects to the bot API with token.
func NewTelegramNotifier(token string, chatID int64, logger *zerolog.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewWithSender(api, chatID, logger), nil
}

// NewWithSender allows injecting a mocked sender for tests.
func NewWithSender(sender TelegramSender, chatID int64, logger *zerolog.Logger) *TelegramNotifier {
	n := &TelegramNotifier{
		sender: sender,
		chatID: chatID,
		logger: logger,
		outbox: make(chan string, outboxSize),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Subscribe announces advances and resets published on bus.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.QueueAdvanced, func(e events.Event) error {
		n.enqueue(advanceMessage(e))
		return nil
	})
	bus.Subscribe(events.QueueReset, func(events.Event) error {
		n.enqueue("Queue has been reset. Token numbering starts again at #1.")
		return nil
	})
}

func advanceMessage(e events.Event) string {
	msg := fmt.Sprintf("Now serving token #%d.", e.Served)
	if e.Waiting > 0 {
		msg += fmt.Sprintf(" Next: #%d (%d waiting).", e.CurrentNumber, e.Waiting)
	} else {
		msg += " No more patients waiting."
	}
	return msg
}

func (n *TelegramNotifier) enqueue(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.outbox <- text:
	default:
		n.logger.Warn().Str("text", text).Msg("Notification outbox full, dropping message")
	}
}

func (n *TelegramNotifier) run() {
	defer close(n.done)
	for text := range n.outbox {
		if _, err := n.sender.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
			n.logger.Error().Err(err).Int64("chat", n.chatID).Msg("Failed to send notification")
		}
	}
}

// Close sends whatever is queued and stops the sender goroutine.
func (n *TelegramNotifier) Close() error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.outbox)
	}
	n.mu.Unlock()
	<-n.done
	return nil
}
