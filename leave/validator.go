package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/metrics"
)

// =============================================================================
// RULES
// =============================================================================

// Rules are the thresholds the validator applies.
type Rules struct {
	// FilingLeadDays: starting sooner than this many days from today is
	// reported as late filing.
	FilingLeadDays int
	// ContractWarningDays: paid leave ending this close to term end needs a
	// term extension first (or an override).
	ContractWarningDays int
	// A new document is rejected when the staff member already has more
	// pending documents of its type than these limits.
	MaxPendingPaidLeave  int
	MaxPendingExtensions int
}

func DefaultRules() Rules {
	return Rules{
		FilingLeadDays:       14,
		ContractWarningDays:  14,
		MaxPendingPaidLeave:  3,
		MaxPendingExtensions: 1,
	}
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Request describes the ranges to check.
type Request struct {
	StaffID  generic.StaffID
	Ranges   []generic.DateRange
	DocType  generic.DocType
	Override bool

	// ExcludeDocuments are left out of conflict and pending-count checks:
	// the document being edited and, for corrections, the one it corrects.
	ExcludeDocuments []generic.DocumentID

	// Credit is the number of days already charged for the document a
	// correction replaces. Only the difference is checked against the
	// balance.
	Credit int
}

type Validator struct {
	src     Source
	index   *AvailabilityIndex
	rules   Rules
	clock   generic.Clock
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewValidator(src Source, rules Rules, clock generic.Clock, log logrus.FieldLogger, m *metrics.Metrics) *Validator {
	if clock == nil {
		clock = generic.SystemClock
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Validator{
		src:     src,
		index:   NewAvailabilityIndex(src),
		rules:   rules,
		clock:   clock,
		log:     log,
		metrics: m,
	}
}

// Bind returns a validator reading from src with the same rules.
func (v *Validator) Bind(src Source) *Validator {
	cp := *v
	cp.src = src
	cp.index = NewAvailabilityIndex(src)
	return &cp
}

func (v *Validator) Rules() Rules { return v.rules }

// ValidateRange is the single-range form of Validate.
func (v *Validator) ValidateRange(ctx context.Context, staffID generic.StaffID, start, end generic.Date, docType generic.DocType, override bool) (generic.ValidationResult, error) {
	return v.Validate(ctx, Request{
		StaffID:  staffID,
		Ranges:   []generic.DateRange{{Start: start, End: end}},
		DocType:  docType,
		Override: override,
	})
}

// Validate runs every rule in order and collects the findings. The returned
// error is reserved for infrastructure failures; rule violations live in the
// result (see ValidationResult.Err).
func (v *Validator) Validate(ctx context.Context, req Request) (generic.ValidationResult, error) {
	var res generic.ValidationResult

	if !req.DocType.Valid() {
		res.AddError(generic.Issue{Code: generic.IssueInvalidRange, Message: fmt.Sprintf("unknown document type %q", req.DocType)})
		return v.done(res), nil
	}
	if err := generic.ValidateRanges(req.Ranges); err != nil {
		res.AddError(generic.Issue{Code: generic.IssueInvalidRange, Message: err.Error()})
		return v.done(res), nil
	}
	ranges := generic.NormalizeRanges(req.Ranges)
	env, _ := generic.Envelope(ranges)
	days := generic.UnionLen(ranges)

	// Employment documents have no staff record until processed.
	if req.DocType == generic.DocEmployment && req.StaffID == "" {
		return v.done(res), nil
	}

	staff, err := v.src.GetStaff(ctx, req.StaffID)
	if err != nil {
		if generic.IsNotFound(err) {
			res.AddError(generic.Issue{Code: generic.IssueUnknownStaff, Message: err.Error()})
			return v.done(res), nil
		}
		return res, err
	}

	v.checkBalance(&res, req, staff, days)
	v.checkContract(&res, req, staff, ranges, env)
	v.checkFiling(&res, req, env)
	if err := v.checkPendingLimits(ctx, &res, req); err != nil {
		return res, err
	}
	if err := v.checkConflicts(ctx, &res, req, ranges); err != nil {
		return res, err
	}

	return v.done(res), nil
}

func (v *Validator) done(res generic.ValidationResult) generic.ValidationResult {
	result := "ok"
	switch {
	case !res.OK():
		result = "error"
	case len(res.Warnings) > 0:
		result = "warning"
	}
	v.metrics.Validation(result)
	return res
}

// addOverridable records an error, or a warning when the caller overrides.
func addOverridable(res *generic.ValidationResult, override bool, issue generic.Issue) {
	issue.Overridable = true
	if override {
		res.AddWarning(issue)
		return
	}
	res.AddError(issue)
}

func (v *Validator) checkBalance(res *generic.ValidationResult, req Request, staff generic.StaffRecord, days int) {
	if req.DocType != generic.DocPaidLeave {
		return
	}
	if days-req.Credit > staff.Balance {
		addOverridable(res, req.Override, generic.Issue{
			Code:    generic.IssueInsufficientBalance,
			Message: fmt.Sprintf("insufficient balance: requested %d days, available %d", days-req.Credit, staff.Balance),
		})
	}
}

func (v *Validator) checkContract(res *generic.ValidationResult, req Request, staff generic.StaffRecord, ranges []generic.DateRange, env generic.DateRange) {
	if !req.DocType.IsLeave() {
		return
	}

	var outside []generic.DateRange
	for _, r := range ranges {
		if (!staff.TermStart.IsZero() && r.Start.Before(staff.TermStart)) ||
			(!staff.TermEnd.IsZero() && r.End.After(staff.TermEnd)) {
			outside = append(outside, r)
		}
	}
	if len(outside) > 0 {
		res.AddError(generic.Issue{
			Code:    generic.IssueOutsideContract,
			Message: fmt.Sprintf("dates fall outside the contract term %s", staff.Term()),
			Ranges:  outside,
		})
		return
	}

	if req.DocType != generic.DocPaidLeave || staff.TermEnd.IsZero() {
		return
	}
	if generic.DaysBetween(env.End, staff.TermEnd) <= v.rules.ContractWarningDays {
		addOverridable(res, req.Override, generic.Issue{
			Code: generic.IssueContractEnding,
			Message: fmt.Sprintf("leave ends %s, within %d days of contract end %s: extend the term first",
				env.End, v.rules.ContractWarningDays, staff.TermEnd),
			Ranges: []generic.DateRange{env},
		})
	}
}

func (v *Validator) checkFiling(res *generic.ValidationResult, req Request, env generic.DateRange) {
	if !req.DocType.IsLeave() {
		return
	}
	deadline := v.clock.Today().AddDays(v.rules.FilingLeadDays)
	if env.Start.Before(deadline) {
		res.AddWarning(generic.Issue{
			Code:    generic.IssueLateFiling,
			Message: fmt.Sprintf("filed less than %d days before the start on %s", v.rules.FilingLeadDays, env.Start),
		})
	}
}

func (v *Validator) checkPendingLimits(ctx context.Context, res *generic.ValidationResult, req Request) error {
	var limit int
	switch req.DocType {
	case generic.DocPaidLeave:
		limit = v.rules.MaxPendingPaidLeave
	case generic.DocTermExtension:
		limit = v.rules.MaxPendingExtensions
	default:
		return nil
	}

	docs, err := v.src.DocumentsByStaff(ctx, req.StaffID)
	if err != nil {
		return fmt.Errorf("load documents of %s: %w", req.StaffID, err)
	}
	skip := make(map[generic.DocumentID]bool, len(req.ExcludeDocuments))
	for _, id := range req.ExcludeDocuments {
		skip[id] = true
	}

	pending := 0
	for _, d := range docs {
		if d.Type == req.DocType && d.Status.InApproval() && !skip[d.ID] {
			pending++
		}
	}
	if pending > limit {
		res.AddError(generic.Issue{
			Code:    generic.IssuePendingLimit,
			Message: fmt.Sprintf("%d %s documents already pending (limit %d)", pending, req.DocType, limit),
		})
	}
	return nil
}

func (v *Validator) checkConflicts(ctx context.Context, res *generic.ValidationResult, req Request, ranges []generic.DateRange) error {
	if !req.DocType.IsLeave() {
		return nil
	}
	conflicts, err := v.index.Conflicts(ctx, req.StaffID, ranges, req.ExcludeDocuments...)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		return nil
	}

	booked := make([]generic.DateRange, 0, len(conflicts))
	for _, c := range conflicts {
		booked = append(booked, c.Range)
	}
	res.Conflicts = conflicts
	res.AddError(generic.Issue{
		Code:    generic.IssueConflict,
		Message: fmt.Sprintf("dates overlap %d booked interval(s)", len(conflicts)),
		Ranges:  booked,
	})
	v.log.WithFields(logrus.Fields{
		"staff_id":  req.StaffID,
		"conflicts": len(conflicts),
	}).Debug("validation found conflicts")
	return nil
}

// IsOverridable reports whether err is a validation failure the caller
// could resubmit with the override flag.
func IsOverridable(err error) bool {
	var ve *generic.ValidationError
	return errors.As(err, &ve) && ve.Overridable()
}
