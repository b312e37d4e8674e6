package bus

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/IBM/sarama"

	"github.com/krishnamouli8/vantage/pkg/apperror"
)

// classifyError maps a raw Sarama/network error to the retryable/fatal
// distinction the stream worker's circuit breaker acts on. Broker
// unavailability and timeouts are transient; malformed messages and
// authorization failures are not.
func classifyError(err error) *apperror.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sarama.ErrOutOfBrokers) ||
		errors.Is(err, sarama.ErrNotLeaderForPartition) ||
		errors.Is(err, sarama.ErrLeaderNotAvailable) ||
		errors.Is(err, sarama.ErrRequestTimedOut) ||
		errors.Is(err, io.EOF) {
		return apperror.Wrap(err, apperror.CodeDependencyRetryable, "bus temporarily unavailable")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperror.Wrap(err, apperror.CodeDependencyRetryable, "bus network error")
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "broken pipe", "i/o timeout", "connection reset"} {
		if strings.Contains(msg, pattern) {
			return apperror.Wrap(err, apperror.CodeDependencyRetryable, "bus connection error")
		}
	}

	if errors.Is(err, sarama.ErrMessageTooLarge) ||
		errors.Is(err, sarama.ErrInvalidMessage) ||
		errors.Is(err, sarama.ErrTopicAuthorizationFailed) {
		return apperror.Wrap(err, apperror.CodeDependencyFatal, "bus rejected message")
	}

	return apperror.Wrap(err, apperror.CodeDependencyFatal, "unclassified bus error")
}
