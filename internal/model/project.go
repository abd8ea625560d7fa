package model

import (
	"sort"
	"time"
)

type ProjectStatus string

const (
	ProjectOpen       ProjectStatus = "open"
	ProjectInProgress ProjectStatus = "in-progress"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

// Terminal reports whether no further project transition is possible.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectCompleted || s == ProjectCancelled
}

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectOpen, ProjectInProgress, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}

// Project is the aggregate root: bids and milestones are embedded and are
// only ever written together with the project.
type Project struct {
	ID          string        `json:"id" bson:"_id"`
	ClientID    string        `json:"client_id" bson:"client_id"`
	Freelancer  string        `json:"freelancer_id,omitempty" bson:"freelancer_id,omitempty"`
	Title       string        `json:"title" bson:"title"`
	Description string        `json:"description" bson:"description"`
	Skills      []string      `json:"skills" bson:"skills"`
	Budget      float64       `json:"budget" bson:"budget"`
	Status      ProjectStatus `json:"status" bson:"status"`
	AcceptedBid string        `json:"accepted_bid,omitempty" bson:"accepted_bid,omitempty"`
	Bids        []Bid         `json:"bids" bson:"bids"`
	Milestones  []Milestone   `json:"milestones" bson:"milestones"`
	Version     int64         `json:"version" bson:"version"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy so transitions never share slices with their input.
func (p Project) Clone() Project {
	out := p
	out.Skills = append([]string(nil), p.Skills...)
	out.Bids = append([]Bid(nil), p.Bids...)
	out.Milestones = append([]Milestone(nil), p.Milestones...)
	return out
}

func (p *Project) FindBid(id string) (int, bool) {
	for i := range p.Bids {
		if p.Bids[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (p *Project) FindMilestone(id string) (int, bool) {
	for i := range p.Milestones {
		if p.Milestones[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// ActiveBidBy returns the freelancer's non-withdrawn bid, if any.
func (p *Project) ActiveBidBy(freelancerID string) (Bid, bool) {
	for _, b := range p.Bids {
		if b.Freelancer == freelancerID && b.Status != BidWithdrawn {
			return b, true
		}
	}
	return Bid{}, false
}

// Bidders returns the distinct freelancers that ever bid, in bid order.
func (p *Project) Bidders() []string {
	seen := make(map[string]bool, len(p.Bids))
	var out []string
	for _, b := range p.Bids {
		if !seen[b.Freelancer] {
			seen[b.Freelancer] = true
			out = append(out, b.Freelancer)
		}
	}
	return out
}

// MilestoneTotal sums the amounts of all milestones.
func (p *Project) MilestoneTotal() float64 {
	var total float64
	for _, m := range p.Milestones {
		total += m.Amount
	}
	return total
}

// BudgetReport compares milestone amounts with the project budget; an overrun is allowed but reported.
type BudgetReport struct {
	Budget         float64 `json:"budget"`
	MilestoneTotal float64 `json:"milestone_total"`
	OverBudget     bool    `json:"over_budget"`
}

func (p *Project) MilestoneBudgetReport() BudgetReport {
	total := p.MilestoneTotal()
	return BudgetReport{
		Budget:         p.Budget,
		MilestoneTotal: total,
		OverBudget:     total > p.Budget,
	}
}

// NormalizeSkills de-duplicates and sorts the skill set.
func NormalizeSkills(skills []string) []string {
	seen := make(map[string]bool, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
