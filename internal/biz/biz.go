package biz

import (
	"github.com/devricklin/notify-reply-bridge/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Policy    *usecase.PolicyUsecase
	RateLimit *usecase.RateLimitUsecase
	Keyword   *usecase.KeywordUsecase
	Grouping  *usecase.GroupingUsecase
	Prompt    *usecase.PromptUsecase
	Reply     *usecase.ReplyUsecase
	Backup    *usecase.BackupUsecase
	Echo      *usecase.SelfEchoGuard
}
