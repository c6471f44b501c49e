// Package scoring turns repository analysis into category scores, a
// composite, and derived views. Everything here is a pure function of its
// input: identical inputs always produce identical scores.
package scoring

import "math"

// Category maxima. The composite is their sum, so it lands in [0,100].
const (
	maxCodeSophistication   = 25.0
	maxEngineeringPractices = 25.0
	maxProjectMaturity      = 20.0
	maxContributionActivity = 15.0
	maxBreadthAndDepth      = 15.0
)

// Experience levels by composite score.
const (
	LevelEntry  = "Entry"
	LevelJunior = "Junior"
	LevelMid    = "Mid-Level"
	LevelSenior = "Senior"
	LevelExpert = "Expert"
)

// Activity statuses derived from recent commit history.
const (
	ActivityActive     = "Active"
	ActivitySemiActive = "Semi-active"
	ActivityInactive   = "Inactive"
)

// RepoSignals is one repository's analyzer output, reduced to the signals
// the scorer consumes.
type RepoSignals struct {
	TestFileRatio        float64
	ErrorHandlingDensity float64
	ModernSyntaxRatio    float64
	TypeSafetyRatio      float64
	DocumentationDensity float64
	CommentDensity       float64
	AvgComplexity        float64

	UniqueFolderCount int
	MaxFolderDepth    int
	HasEntryPoint     bool
	HasConfig         bool
	HasBuildScript    bool

	ReadmeQuality int // 0..5
	CICDMaturity  int // 0..3
	HasLockfile   bool
	HasLintConfig bool
	HasLicense    bool

	Languages  []string
	Frameworks []string
}

// Activity summarizes the candidate's recent commit history.
type Activity struct {
	CommitsLast30d int
	CommitsLast90d int
	WeeksActive    int
	Status         string
}

// Input is everything the scorer sees.
type Input struct {
	RepoCount int // repositories surviving the filter
	Repos     []RepoSignals
	Activity  Activity
}

// Result carries the five category scores, the composite, and the views
// derived from them.
type Result struct {
	CodeSophistication   float64 `json:"code_sophistication"`
	EngineeringPractices float64 `json:"engineering_practices"`
	ProjectMaturity      float64 `json:"project_maturity"`
	ContributionActivity float64 `json:"contribution_activity"`
	BreadthAndDepth      float64 `json:"breadth_and_depth"`

	Overall float64 `json:"overall_score"`
	Level   string  `json:"overall_level"`

	JobReadiness          float64 `json:"job_readiness_score"`
	TechDepth             float64 `json:"tech_depth_score"`
	HiringReadiness       string  `json:"hiring_readiness"`
	ProjectMaturityRating string  `json:"project_maturity_rating"`
}

// Score computes the full result for one candidate.
func Score(in Input) Result {
	r := Result{
		CodeSophistication:   codeSophistication(in.Repos),
		EngineeringPractices: engineeringPractices(in.Repos),
		ProjectMaturity:      projectMaturity(in.Repos),
		ContributionActivity: contributionActivity(in.Activity),
		BreadthAndDepth:      breadthAndDepth(in),
	}
	r.Overall = round1(r.CodeSophistication + r.EngineeringPractices +
		r.ProjectMaturity + r.ContributionActivity + r.BreadthAndDepth)
	r.Level = levelFor(r.Overall)

	// Derived views are fixed-weight combinations of the category scores,
	// each normalized back to [0,100].
	r.JobReadiness = round1(
		r.EngineeringPractices/maxEngineeringPractices*35 +
			r.ContributionActivity/maxContributionActivity*25 +
			r.ProjectMaturity/maxProjectMaturity*25 +
			r.CodeSophistication/maxCodeSophistication*15)
	r.TechDepth = round1(
		r.CodeSophistication/maxCodeSophistication*45 +
			r.BreadthAndDepth/maxBreadthAndDepth*30 +
			r.ProjectMaturity/maxProjectMaturity*15 +
			r.EngineeringPractices/maxEngineeringPractices*10)

	r.HiringReadiness = hiringReadiness(r.Overall)
	r.ProjectMaturityRating = maturityRating(in.Repos)
	return r
}

func levelFor(overall float64) string {
	switch {
	case overall < 20:
		return LevelEntry
	case overall < 40:
		return LevelJunior
	case overall < 60:
		return LevelMid
	case overall < 80:
		return LevelSenior
	default:
		return LevelExpert
	}
}

func hiringReadiness(overall float64) string {
	switch {
	case overall >= 75:
		return "Ready now"
	case overall >= 55:
		return "Ready with minor ramp-up"
	case overall >= 35:
		return "Needs mentorship"
	default:
		return "Not yet ready"
	}
}

// codeSophistication rewards modern syntax, type safety, and non-trivial
// control flow. Max 25.
func codeSophistication(repos []RepoSignals) float64 {
	if len(repos) == 0 {
		return 0
	}
	var modern, typed, complexity float64
	for _, r := range repos {
		modern += r.ModernSyntaxRatio
		typed += r.TypeSafetyRatio
		complexity += r.AvgComplexity
	}
	n := float64(len(repos))
	modern /= n
	typed /= n
	complexity /= n

	score := modern*10 + typed*8
	// Complexity is a branching-density proxy; ~8 branches per file is
	// already substantial logic, more earns no extra credit.
	score += ratio(complexity, 8) * 7
	return round1(clamp(score, 0, maxCodeSophistication))
}

// engineeringPractices rewards tests, error handling, documentation, and
// repo hygiene. Max 25.
func engineeringPractices(repos []RepoSignals) float64 {
	if len(repos) == 0 {
		return 0
	}
	var tests, errs, docs, lint, license float64
	for _, r := range repos {
		tests += r.TestFileRatio
		errs += r.ErrorHandlingDensity
		docs += r.DocumentationDensity
		if r.HasLintConfig {
			lint++
		}
		if r.HasLicense {
			license++
		}
	}
	n := float64(len(repos))

	// A third of files being tests is a healthy suite; saturate there.
	score := ratio(tests/n, 1.0/3.0) * 9
	score += ratio(errs/n, 0.5) * 7
	score += ratio(docs/n, 0.25) * 5
	score += lint / n * 2
	score += license / n * 2
	return round1(clamp(score, 0, maxEngineeringPractices))
}

// projectMaturity rewards READMEs, CI/CD, and project structure. Max 20.
func projectMaturity(repos []RepoSignals) float64 {
	if len(repos) == 0 {
		return 0
	}
	var readme, cicd, entry, config, build, depth float64
	for _, r := range repos {
		readme += float64(r.ReadmeQuality)
		cicd += float64(r.CICDMaturity)
		if r.HasEntryPoint {
			entry++
		}
		if r.HasConfig {
			config++
		}
		if r.HasBuildScript {
			build++
		}
		depth += float64(r.MaxFolderDepth)
	}
	n := float64(len(repos))

	score := readme / n / 5 * 8
	score += cicd / n / 3 * 6
	score += entry/n*1.5 + config/n*1.5 + build/n*1.5
	score += ratio(depth/n, 4) * 1.5
	return round1(clamp(score, 0, maxProjectMaturity))
}

// contributionActivity rewards recent, sustained commit activity. Max 15.
func contributionActivity(a Activity) float64 {
	score := ratio(float64(a.CommitsLast30d), 20) * 6
	score += ratio(float64(a.CommitsLast90d), 60) * 4
	score += ratio(float64(a.WeeksActive), 12) * 4
	switch a.Status {
	case ActivityActive:
		score += 1
	case ActivitySemiActive:
		score += 0.5
	}
	return round1(clamp(score, 0, maxContributionActivity))
}

// breadthAndDepth rewards language and framework range plus a body of
// substantial repositories. Max 15.
func breadthAndDepth(in Input) float64 {
	languages := make(map[string]struct{})
	frameworks := make(map[string]struct{})
	for _, r := range in.Repos {
		for _, l := range r.Languages {
			languages[l] = struct{}{}
		}
		for _, f := range r.Frameworks {
			frameworks[f] = struct{}{}
		}
	}

	score := ratio(float64(len(languages)), 5) * 6
	score += ratio(float64(len(frameworks)), 6) * 4
	score += ratio(float64(in.RepoCount), 10) * 5
	return round1(clamp(score, 0, maxBreadthAndDepth))
}

// maturityRating maps the average of the maturity signals to an ordinal
// label, independent of the composite.
func maturityRating(repos []RepoSignals) string {
	if len(repos) == 0 {
		return "Poor"
	}
	var sum float64
	for _, r := range repos {
		structure := 0.0
		if r.HasEntryPoint {
			structure++
		}
		if r.HasConfig {
			structure++
		}
		if r.HasBuildScript {
			structure++
		}
		sum += (float64(r.ReadmeQuality)/5 + float64(r.CICDMaturity)/3 + structure/3) / 3
	}
	avg := sum / float64(len(repos))
	switch {
	case avg >= 0.75:
		return "Excellent"
	case avg >= 0.5:
		return "Good"
	case avg >= 0.25:
		return "Fair"
	default:
		return "Poor"
	}
}

// ratio scales v against a saturation ceiling into [0,1].
func ratio(v, ceiling float64) float64 {
	if ceiling <= 0 {
		return 0
	}
	return clamp(v/ceiling, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
