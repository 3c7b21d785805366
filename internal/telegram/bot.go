// Package telegram answers glyph photos sent to a Telegram bot with the
// predicted class.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/inference"
)

const (
	msgStart = `Send me a photo of a single licence plate character and I will tell you which one it is.

Commands:
/help - usage`

	msgHelp = `How to use:

1. Crop the photo to one character
2. Dark glyph on a light background works best
3. You get the class, its raw score and the inference time`

	msgSendPhoto       = "Please send a photo of a single character."
	msgUnknownCommand  = "Unknown command. Use /help."
	msgProcessingError = "Could not process the image. Try another photo."

	maxDownloadSize = 20 << 20
)

// Classifier is the part of *inference.Session the bot uses.
type Classifier interface {
	Classify(ctx context.Context, f frame.Frame) (inference.Result, error)
	Label(index int) string
}

type Bot struct {
	api        *tgbotapi.BotAPI
	classifier Classifier
	logger     *zap.Logger
	client     *http.Client
}

func NewBot(token string, classifier Classifier, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("authorized on account", zap.String("user", api.Self.UserName))

	return &Bot{
		api:        api,
		classifier: classifier,
		logger:     logger,
		client:     http.DefaultClient,
	}, nil
}

// Run handles updates one at a time until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, msgStart)
	case "help":
		b.sendMessage(msg.Chat.ID, msgHelp)
	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	// largest resolution comes last
	photo := msg.Photo[len(msg.Photo)-1]

	data, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		b.logger.Warn("download photo", zap.Error(err))
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	reply, err := Recognize(ctx, b.classifier, data)
	if err != nil {
		b.logger.Warn("classify photo", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}
	b.sendMessage(msg.Chat.ID, reply)
}

// Recognize decodes a photo, letterboxes it into a frame and formats the
// prediction as a reply.
func Recognize(ctx context.Context, c Classifier, data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	f, err := frame.FromImage(img, frame.DefaultFitOptions)
	if err != nil {
		return "", err
	}
	res, err := c.Classify(ctx, f)
	if err != nil {
		return "", err
	}
	return FormatReply(c.Label(res.Index), res), nil
}

// FormatReply renders "<label> (index=<i>, score_q=<q>, <ms> ms)".
func FormatReply(label string, res inference.Result) string {
	ms := float64(res.Latency.Microseconds()) / 1000
	return fmt.Sprintf("%s (index=%d, score_q=%d, %.2f ms)", label, res.Index, res.Quantized, ms)
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
