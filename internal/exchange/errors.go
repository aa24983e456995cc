package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

// Ошибки получения рыночных данных
var (
	// ErrInvalidRequest некорректный запрос или ответ, который нельзя разобрать. Не повторяется.
	ErrInvalidRequest = errors.New("некорректный запрос")
	// ErrRateLimited биржа ограничила частоту запросов. Не повторяется, вызывающий сам решает, когда повторить.
	ErrRateLimited = errors.New("превышен лимит запросов")
	// ErrNetwork ошибка соединения. Повторяется.
	ErrNetwork = errors.New("сетевая ошибка")
)

// UpstreamError ответ биржи с неуспешным HTTP статусом
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("ошибка биржи: %s", e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("ошибка биржи: HTTP %d", e.Status)
	}
	return fmt.Sprintf("ошибка биржи: HTTP %d: %s", e.Status, e.Message)
}

// IsTransient сообщает, имеет ли смысл повторить запрос
func IsTransient(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Status >= http.StatusInternalServerError
	}
	return false
}

// statusError переводит HTTP статус в ошибку
func statusError(status int, message string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, message)
	default:
		return &UpstreamError{Status: status, Message: message}
	}
}
