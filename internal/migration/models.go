package migration

import (
	jobdomain "github.com/smallbiznis/capstan/internal/job/domain"
	pooldomain "github.com/smallbiznis/capstan/internal/pool/domain"
	subscriptiondomain "github.com/smallbiznis/capstan/internal/subscription/domain"
)

func models() []any {
	return []any{
		&pooldomain.Pool{},
		&pooldomain.Entitlement{},
		&jobdomain.JobRecord{},
		&subscriptiondomain.Subscription{},
	}
}
