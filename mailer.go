package credlock

import "go.uber.org/zap"

// LogMailer writes codes to the log instead of sending mail. Development
// and test use only: the codes appear in plaintext.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerificationCode(email, code string) {
	m.logger.Info("email verification code",
		zap.String("email", email),
		zap.String("code", code),
	)
}

func (m *LogMailer) SendPasswordResetCode(email, code string) {
	m.logger.Info("password reset code",
		zap.String("email", email),
		zap.String("code", code),
	)
}
