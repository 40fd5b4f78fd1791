package daemon

import (
	"bindery/internal/errs"
	"bindery/internal/recovery"
)

// headlessDialog is the recovery policy for unattended operation: take a
// retry when one is offered, otherwise give up on the job.
func headlessDialog() recovery.Dialog {
	return recovery.DialogFunc(func(_ string, _ *errs.AppError, offered []recovery.Action) recovery.Action {
		for _, action := range offered {
			if action == recovery.ActionRetry {
				return action
			}
		}
		return recovery.ActionCancel
	})
}
