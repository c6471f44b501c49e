package evaluation

// ProfileSummary is the candidate header of a report.
type ProfileSummary struct {
	Username             string   `json:"username"`
	Name                 string   `json:"name"`
	Bio                  string   `json:"bio"`
	Avatar               string   `json:"avatar"`
	Location             string   `json:"location"`
	GitHubURL            string   `json:"github_url"`
	PrimaryLanguages     []string `json:"primary_languages"`
	TotalRepositories    int      `json:"total_repositories"`
	AnalyzedRepositories int      `json:"analyzed_repositories"`
	ActivityStatus       string   `json:"activity_status"`
}

// Scores is the deterministic scoring block.
type Scores struct {
	OverallLevel         string  `json:"overall_level"`
	OverallScore         float64 `json:"overall_score"`
	MaxScore             float64 `json:"max_score"`
	JobReadinessScore    float64 `json:"job_readiness_score"`
	TechDepthScore       float64 `json:"tech_depth_score"`
	HiringReadiness      string  `json:"hiring_readiness"`
	CodeSophistication   float64 `json:"code_sophistication"`
	EngineeringPractices float64 `json:"engineering_practices"`
	ProjectMaturity      float64 `json:"project_maturity"`
	ContributionActivity float64 `json:"contribution_activity"`
	BreadthAndDepth      float64 `json:"breadth_and_depth"`
}

// RecruiterSummary is the narrative block aimed at non-engineers.
type RecruiterSummary struct {
	TopStrengths          []string `json:"top_strengths"`
	RisksOrWeaknesses     []string `json:"risks_or_weaknesses"`
	RecommendedRoleLevel  string   `json:"recommended_role_level"`
	HiringReadiness       string   `json:"hiring_readiness"`
	ProjectMaturityRating string   `json:"project_maturity_rating"`
	PortfolioReadiness    string   `json:"portfolio_readiness"`
}

// TestingAnalysis summarizes the candidate's testing habits. The ratio is
// computed locally; the narrative fields come from enrichment.
type TestingAnalysis struct {
	Maturity          string   `json:"maturity"`
	TestPresence      string   `json:"test_presence"`
	TestFileRatio     float64  `json:"test_file_ratio"`
	TestLibrariesSeen []string `json:"test_libraries_seen"`
	Details           string   `json:"details"`
}

// LanguageShare is one language's slice of the analyzed portfolio.
type LanguageShare struct {
	Percentage float64 `json:"percentage"`
	ReposCount int     `json:"repos_count"`
}

// RepoDetail is the per-repository line item in the breakdown.
type RepoDetail struct {
	RepoName   string   `json:"repo_name"`
	Score      float64  `json:"score"`
	Notes      string   `json:"notes"`
	Languages  []string `json:"languages"`
	Complexity float64  `json:"complexity"`
	Stars      int      `json:"stars"`
	Forks      int      `json:"forks"`
}

// EngineerBreakdown is the narrative block aimed at technical reviewers.
type EngineerBreakdown struct {
	CodePatterns           []string                 `json:"code_patterns"`
	ArchitectureAnalysis   []string                 `json:"architecture_analysis"`
	TestingAnalysis        TestingAnalysis          `json:"testing_analysis"`
	ComplexityInsights     []string                 `json:"complexity_insights"`
	CommitMessageQuality   string                   `json:"commit_message_quality"`
	LanguageBreakdown      map[string]LanguageShare `json:"language_breakdown"`
	RepoLevelDetails       []RepoDetail             `json:"repo_level_details"`
	NotableImplementations []string                 `json:"notable_implementations"`
	ImprovementAreas       []string                 `json:"improvement_areas"`
	InterviewProbes        []string                 `json:"interview_probes"`
}

// Report is the full evaluation result returned to clients and cached.
type Report struct {
	Profile           ProfileSummary    `json:"profile"`
	Scores            Scores            `json:"scores"`
	RecruiterSummary  RecruiterSummary  `json:"recruiter_summary"`
	EngineerBreakdown EngineerBreakdown `json:"engineer_breakdown"`
}
