package chat

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindRateLimited        Kind = "rate_limited"
	KindInvalidInput       Kind = "invalid_input"
	KindMisconfigured      Kind = "misconfigured"
	KindUpstreamTimeout    Kind = "upstream_timeout"
	KindUpstreamRunFailure Kind = "upstream_run_failure"
	KindUpstreamUnexpected Kind = "upstream_unexpected"
)

const (
	MsgRateLimited       = "Limite de requisições atingido. Tente novamente em instantes."
	MsgInvalidJSON       = "JSON inválido na requisição."
	MsgInvalidRequest    = "Requisição inválida."
	MsgMessageRequired   = "Mensagem obrigatória"
	MsgMessageTooLong    = "Mensagem muito longa"
	MsgMissingAssistant  = "Assistant ID não configurado. Ajuste a variável OPENAI_ASSISTANT_ID."
	MsgTimeout           = "Tempo de espera excedido ao aguardar a resposta do assistente."
	MsgRunFailurePrefix  = "Execução do assistente finalizada com status: "
	MsgUnexpected        = "Ocorreu um erro inesperado ao obter a resposta do assistente."
	MsgMissingThreadID   = "Thread ID obrigatório"
	MsgInvalidQueryParam = "Parâmetros de consulta inválidos."

	// Field level messages for request bodies with the wrong shape. They keep
	// the wording the widget already knows.
	MsgRequired       = "Required"
	MsgExpectedPrefix = "Expected "
)

// MsgExpected reports a JSON value of type got where want was required, for
// example "Expected string, received number".
func MsgExpected(want, got string) string {
	return MsgExpectedPrefix + want + ", received " + got
}

// Error is returned by the orchestrator. Message is safe to show to the
// caller, Cause keeps the full detail for logs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidInput(message string) error {
	return newError(KindInvalidInput, message, nil)
}

// KindOf classifies err, anything that is not an *Error is unexpected.
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindUpstreamUnexpected
}

// PublicMessage returns the single line message that may be shown to callers.
func PublicMessage(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) && cerr.Message != "" {
		return cerr.Message
	}
	return MsgUnexpected
}
