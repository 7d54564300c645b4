// Package stage defines the gate predicates that control movement through the
// case pipeline. Every predicate is evaluated purely from facts already
// recorded on the case record, so the decision is deterministic and can be
// replayed from the timeline alone.
package stage

import (
	"caseflow/internal/domain"
)

// PreconditionError is returned when a gate predicate rejects an advance. The
// reason is meant for operators, not for programmatic matching.
type PreconditionError struct {
	Stage  domain.Stage
	Reason string
}

func (e *PreconditionError) Error() string {
	return "cannot enter " + e.Stage.String() + ": " + e.Reason
}

// CheckAdvance decides whether the case may enter the given stage. A nil
// return means the gate is open; otherwise the error is a *PreconditionError
// carrying the human-readable reason.
func CheckAdvance(c *domain.Case, next domain.Stage) error {
	reject := func(reason string) error {
		return &PreconditionError{Stage: next, Reason: reason}
	}
	switch next {
	case domain.StageCRM:
		if c.Client.Name == "" || c.Target.Name == "" {
			return reject("client or target information incomplete")
		}
	case domain.StageLegal:
		if c.AssignedTo == nil {
			return reject("case has no assigned team")
		}
	case domain.StageQuote:
		if !c.TimelineHas(domain.ActionLegalApproved) {
			return reject("legal review not approved")
		}
	case domain.StageExecution:
		if !c.HasDocument(domain.DocumentContract) || !c.HasCompletedPayment(domain.PaymentDeposit) {
			return reject("contract not signed or deposit not received")
		}
	case domain.StageReport:
		if !c.TimelineHas(domain.ActionExecutionCompleted) {
			return reject("execution stage not completed")
		}
	case domain.StageFinance:
		if !c.HasDocument(domain.DocumentReport) {
			return reject("result report not delivered")
		}
	case domain.StageArchive:
		if !c.HasCompletedPayment(domain.PaymentFinal) {
			return reject("final payment not received")
		}
	}
	return nil
}

var teams = map[domain.Stage]string{
	domain.StageCRM:       "crm_team",
	domain.StageLegal:     "legal_team",
	domain.StageQuote:     "sales_team",
	domain.StageExecution: "investigation_team",
	domain.StageReport:    "report_team",
	domain.StageFinance:   "finance_team",
	domain.StageArchive:   "admin_team",
}

// TeamFor returns the team responsible for a stage. The mapping is total for
// every stage past form; form has no owner because the case is not yet inside
// the organization.
func TeamFor(s domain.Stage) (string, bool) {
	team, ok := teams[s]
	return team, ok
}
