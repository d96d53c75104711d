package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

const timeLayout = "2006-01-02 15:04"

func renderRows(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	if err := table.Append(header); err != nil {
		return fmt.Errorf("append header: %w", err)
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return table.Render()
}

func renderQueue(w io.Writer, entries []domain.ReviewQueueEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "review queue is empty")
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ReferralID,
			nameOrID(e.ReferrerName, e.ReferrerID),
			nameOrID(e.ReferredName, e.ReferredID),
			strconv.Itoa(e.RiskScore),
			string(e.ReviewStatus),
			strings.Join(e.Flags, ","),
			e.Age.Truncate(time.Minute).String(),
		})
	}
	return renderRows(w, []string{"Referral", "Referrer", "Referred", "Score", "Status", "Flags", "Age"}, rows)
}

func renderOutcome(w io.Writer, outcome domain.ReviewOutcome) error {
	r := outcome.Referral
	rows := [][]string{
		{"referral", r.ID},
		{"status", string(r.Status)},
		{"review_status", string(r.ReviewStatus)},
		{"risk_score", strconv.Itoa(r.RiskScore)},
	}
	if p := outcome.Promotion; p != nil && p.Changed {
		rows = append(rows, []string{"promotion", fmt.Sprintf("%s: %s -> %s", p.UserID, p.From, p.To)})
	}
	return renderRows(w, []string{"Field", "Value"}, rows)
}

func renderUser(w io.Writer, user domain.User, history []domain.StateTransition) error {
	rows := [][]string{
		{"user", nameOrID(user.DisplayName, user.ID)},
		{"state", string(user.State)},
		{"verified_referrals", strconv.Itoa(user.VerifiedReferrals)},
		{"last_activity", formatTime(user.LastActivityAt)},
		{"tier_unlocked", formatTime(user.TierUnlockedAt)},
		{"decay_warned", strconv.FormatBool(user.DecayWarned)},
	}
	if err := renderRows(w, []string{"Field", "Value"}, rows); err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	transitions := make([][]string, 0, len(history))
	for _, t := range history {
		transitions = append(transitions, []string{
			t.AppliedAt.UTC().Format(timeLayout),
			string(t.From),
			string(t.To),
			t.Reason,
			t.Actor,
		})
	}
	return renderRows(w, []string{"At", "From", "To", "Reason", "Actor"}, transitions)
}

func renderSweep(w io.Writer, report domain.SweepReport) error {
	if _, err := fmt.Fprintf(w, "scanned %d users in %s, %d actions, %d failures\n",
		report.Scanned, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), len(report.Actions), report.Failures); err != nil {
		return err
	}
	if len(report.Actions) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(report.Actions))
	for _, a := range report.Actions {
		rows = append(rows, []string{a.UserID, string(a.Kind), string(a.From), string(a.To), strconv.Itoa(a.DaysInactive)})
	}
	return renderRows(w, []string{"User", "Action", "From", "To", "Days"}, rows)
}

func nameOrID(name, id string) string {
	if name == "" {
		return id
	}
	return name + " (" + id + ")"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}
