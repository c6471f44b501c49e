package evaluation

import (
	"context"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/talentlane/backend/internal/codehost"
	"github.com/talentlane/backend/internal/scoring"
)

const (
	maxFileSize     = 50 * 1024 // skip files above 50 KB
	maxFileLines    = 150       // analyze only the head of each file
	maxFilesPerRepo = 12
	maxSnippets     = 3
	snippetLines    = 40
)

// languageByExt maps source extensions to display languages. Files outside
// this map are not analyzed.
var languageByExt = map[string]string{
	".go":    "Go",
	".py":    "Python",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".mjs":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".java":  "Java",
	".rb":    "Ruby",
	".rs":    "Rust",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".cc":    "C++",
	".hpp":   "C++",
	".cs":    "C#",
	".php":   "PHP",
	".swift": "Swift",
	".kt":    "Kotlin",
	".scala": "Scala",
	".ex":    "Elixir",
	".exs":   "Elixir",
	".dart":  "Dart",
	".vue":   "Vue",
	".lua":   "Lua",
	".sh":    "Shell",
}

// Statically typed languages count toward type safety without per-file
// annotation checks.
var typedLanguages = map[string]bool{
	"Go": true, "Java": true, "Rust": true, "C": true, "C++": true,
	"C#": true, "Swift": true, "Kotlin": true, "Scala": true, "TypeScript": true,
}

var generatedPathPattern = regexp.MustCompile(`(?i)(^|/)(node_modules|vendor|dist|build|out|coverage|\.next|__pycache__|migrations)(/|$)|\.min\.(js|css)$|\.pb\.go$|_generated\.`)

var testPathPattern = regexp.MustCompile(`(?i)(^|/)(tests?|spec|__tests__|__mocks__)(/|$)|_test\.|\.test\.|\.spec\.|^test_|/test_`)

// frameworkHints maps an import/require marker to a framework label.
var frameworkHints = []struct {
	marker string
	name   string
}{
	{"react", "React"},
	{"next", "Next.js"},
	{"vue", "Vue"},
	{"@angular", "Angular"},
	{"express", "Express"},
	{"fastify", "Fastify"},
	{"django", "Django"},
	{"flask", "Flask"},
	{"fastapi", "FastAPI"},
	{"rails", "Rails"},
	{"github.com/gin-gonic/gin", "Gin"},
	{"github.com/gorilla/mux", "Gorilla"},
	{"github.com/labstack/echo", "Echo"},
	{"spring", "Spring"},
	{"laravel", "Laravel"},
	{"tensorflow", "TensorFlow"},
	{"torch", "PyTorch"},
}

var testLibraryHints = []struct {
	marker string
	name   string
}{
	{"jest", "Jest"},
	{"vitest", "Vitest"},
	{"mocha", "Mocha"},
	{"pytest", "pytest"},
	{"unittest", "unittest"},
	{"testify", "Testify"},
	{"rspec", "RSpec"},
	{"junit", "JUnit"},
	{"cypress", "Cypress"},
	{"playwright", "Playwright"},
}

// RepoMetrics is the analyzer's aggregate for one repository.
type RepoMetrics struct {
	RepoName string
	Signals  scoring.RepoSignals

	SourceFiles   int
	TestFiles     int
	Stars         int
	Forks         int
	TestLibraries []string
	Snippets      []Snippet
}

// Snippet is a curated code sample fed to enrichment as context.
type Snippet struct {
	Repo    string `json:"repo"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

type fileMetrics struct {
	language      string
	frameworks    []string
	modernSyntax  bool
	errorHandling bool
	typed         bool
	documented    bool
	complexity    int
	commentLines  int
	totalLines    int
}

// analyzeRepo fetches a repository's tree and a deterministic sample of
// its source files, producing the aggregate signals the scorer consumes.
func analyzeRepo(ctx context.Context, host codehost.Client, owner string, repo codehost.Repo) (*RepoMetrics, error) {
	tree, err := host.ListFiles(ctx, owner, repo.Name)
	if err != nil {
		return nil, err
	}

	m := &RepoMetrics{
		RepoName: repo.Name,
		Stars:    repo.Stars,
		Forks:    repo.Forks,
	}
	if repo.Language != "" {
		m.Signals.Languages = append(m.Signals.Languages, repo.Language)
	}

	var (
		source    []codehost.TreeEntry
		readme    string
		workflows []string
		folders   = make(map[string]struct{})
	)
	for _, entry := range tree {
		p := entry.Path
		if dir := path.Dir(p); dir != "." {
			folders[dir] = struct{}{}
			if depth := strings.Count(dir, "/") + 1; depth > m.Signals.MaxFolderDepth {
				m.Signals.MaxFolderDepth = depth
			}
		}

		base := strings.ToLower(path.Base(p))
		classifyRepoFile(&m.Signals, p, base)
		if base == "readme.md" && !strings.Contains(p, "/") {
			readme = p
		}
		if strings.HasPrefix(p, ".github/workflows/") && (strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml")) {
			workflows = append(workflows, p)
		}

		if generatedPathPattern.MatchString(p) {
			continue
		}
		if _, ok := languageByExt[strings.ToLower(path.Ext(p))]; !ok {
			continue
		}
		if testPathPattern.MatchString(p) {
			m.TestFiles++
			continue
		}
		if entry.Size > 0 && entry.Size <= maxFileSize {
			source = append(source, entry)
		}
		m.SourceFiles++
	}
	m.Signals.UniqueFolderCount = len(folders)
	if total := m.SourceFiles + m.TestFiles; total > 0 {
		m.Signals.TestFileRatio = float64(m.TestFiles) / float64(total)
	}

	// Deterministic sample: biggest files first, path as tiebreak.
	sort.Slice(source, func(i, j int) bool {
		if source[i].Size != source[j].Size {
			return source[i].Size > source[j].Size
		}
		return source[i].Path < source[j].Path
	})
	if len(source) > maxFilesPerRepo {
		source = source[:maxFilesPerRepo]
	}

	var (
		analyzed   int
		modern     int
		errHandled int
		typed      int
		documented int
		complexity int
		comments   int
		lines      int
		languages  = make(map[string]struct{})
		frameworks = make(map[string]struct{})
		testLibs   = make(map[string]struct{})
	)
	for _, l := range m.Signals.Languages {
		languages[l] = struct{}{}
	}

	for _, entry := range source {
		content, err := host.GetFile(ctx, owner, repo.Name, entry.Path)
		if err != nil {
			// One unreadable blob should not sink the repo.
			continue
		}
		fm := analyzeFile(entry.Path, content)
		analyzed++
		languages[fm.language] = struct{}{}
		for _, f := range fm.frameworks {
			frameworks[f] = struct{}{}
		}
		for _, lib := range scanTestLibraries(content) {
			testLibs[lib] = struct{}{}
		}
		if fm.modernSyntax {
			modern++
		}
		if fm.errorHandling {
			errHandled++
		}
		if fm.typed {
			typed++
		}
		if fm.documented {
			documented++
		}
		complexity += fm.complexity
		comments += fm.commentLines
		lines += fm.totalLines

		if len(m.Snippets) < maxSnippets {
			m.Snippets = append(m.Snippets, Snippet{
				Repo:    repo.Name,
				Path:    entry.Path,
				Content: headLines(content, snippetLines),
			})
		}
	}

	if analyzed > 0 {
		n := float64(analyzed)
		m.Signals.ModernSyntaxRatio = float64(modern) / n
		m.Signals.ErrorHandlingDensity = float64(errHandled) / n
		m.Signals.TypeSafetyRatio = float64(typed) / n
		m.Signals.DocumentationDensity = float64(documented) / n
		m.Signals.AvgComplexity = float64(complexity) / n
	}
	if lines > 0 {
		m.Signals.CommentDensity = float64(comments) / float64(lines)
	}

	m.Signals.Languages = sortedKeys(languages)
	m.Signals.Frameworks = sortedKeys(frameworks)
	m.TestLibraries = sortedKeys(testLibs)

	if readme != "" {
		if content, err := host.GetFile(ctx, owner, repo.Name, readme); err == nil {
			m.Signals.ReadmeQuality = readmeQuality(content)
		}
	}
	m.Signals.CICDMaturity = cicdMaturity(ctx, host, owner, repo.Name, workflows)

	return m, nil
}

// classifyRepoFile flips the structural presence flags a single path can
// establish.
func classifyRepoFile(s *scoring.RepoSignals, fullPath, base string) {
	switch base {
	case "main.go", "main.py", "app.py", "index.js", "index.ts", "server.js", "main.rs", "main.java", "program.cs":
		s.HasEntryPoint = true
	case "makefile", "dockerfile", "build.gradle", "pom.xml", "cmakelists.txt", "setup.py", "pyproject.toml":
		s.HasBuildScript = true
	case "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum", "cargo.lock", "poetry.lock", "gemfile.lock", "composer.lock":
		s.HasLockfile = true
	}
	if base == "package.json" && !strings.Contains(fullPath, "/") {
		s.HasBuildScript = true
	}
	switch {
	case strings.HasPrefix(base, ".eslintrc"), base == "eslint.config.js", base == ".golangci.yml",
		base == ".golangci.yaml", base == "ruff.toml", base == ".flake8", base == ".rubocop.yml",
		base == "biome.json", base == ".pylintrc", base == "tslint.json":
		s.HasLintConfig = true
	case strings.HasPrefix(base, "license") || strings.HasPrefix(base, "copying"):
		if !strings.Contains(fullPath, "/") {
			s.HasLicense = true
		}
	case base == ".env.example", base == "config.yaml", base == "config.yml", base == "config.json",
		base == "settings.py", base == "app.config.js", strings.HasSuffix(base, ".config.js"),
		strings.HasSuffix(base, ".config.ts"), base == "tsconfig.json":
		s.HasConfig = true
	}
}

// analyzeFile computes the per-file metrics over the head of one source
// file.
func analyzeFile(filePath, content string) fileMetrics {
	lang := languageByExt[strings.ToLower(path.Ext(filePath))]
	head := headLines(content, maxFileLines)
	lower := strings.ToLower(head)

	fm := fileMetrics{
		language: lang,
		typed:    typedLanguages[lang],
	}

	for _, hint := range frameworkHints {
		if strings.Contains(lower, hint.marker) {
			fm.frameworks = append(fm.frameworks, hint.name)
		}
	}

	switch lang {
	case "JavaScript", "TypeScript", "Vue":
		fm.modernSyntax = strings.Contains(head, "=>") || strings.Contains(head, "async ") ||
			strings.Contains(head, "const ") || strings.Contains(head, "await ")
		fm.errorHandling = strings.Contains(head, "try") && strings.Contains(head, "catch") ||
			strings.Contains(head, ".catch(")
		if lang != "TypeScript" {
			fm.typed = strings.Contains(head, ": string") || strings.Contains(head, ": number") ||
				strings.Contains(head, "PropTypes")
		}
	case "Python":
		fm.modernSyntax = strings.Contains(head, "f\"") || strings.Contains(head, "f'") ||
			strings.Contains(head, "async def") || strings.Contains(head, " := ")
		fm.errorHandling = strings.Contains(head, "try:") || strings.Contains(head, "except")
		fm.typed = strings.Contains(head, "->") || strings.Contains(head, ": str") ||
			strings.Contains(head, ": int") || strings.Contains(head, "typing")
	case "Go":
		fm.modernSyntax = strings.Contains(head, "context.Context") || strings.Contains(head, "chan ") ||
			strings.Contains(head, "go func") || strings.Contains(head, "[T ")
		// Covers both "if err != nil" and "if err := f(); err != nil".
		fm.errorHandling = strings.Contains(head, "err != nil")
	case "Rust":
		fm.modernSyntax = strings.Contains(head, "async fn") || strings.Contains(head, "impl ")
		fm.errorHandling = strings.Contains(head, "Result<") || strings.Contains(head, "?;")
	case "Java", "Kotlin", "Scala", "C#", "Swift":
		fm.modernSyntax = strings.Contains(head, "stream()") || strings.Contains(head, "=>") ||
			strings.Contains(head, "->") || strings.Contains(head, "async")
		fm.errorHandling = strings.Contains(head, "try") && strings.Contains(head, "catch")
	case "Ruby":
		fm.modernSyntax = strings.Contains(head, "do |") || strings.Contains(head, "&:")
		fm.errorHandling = strings.Contains(head, "rescue")
	default:
		fm.errorHandling = strings.Contains(head, "try") && strings.Contains(head, "catch")
	}

	fm.documented = strings.Contains(head, "\"\"\"") || strings.Contains(head, "'''") ||
		strings.Contains(head, "/**") || strings.Contains(head, "///") ||
		docCommentBeforeDecl(head)

	for _, line := range strings.Split(head, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		fm.totalLines++
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "--") {
			fm.commentLines++
		}
		fm.complexity += branchCount(trimmed)
	}
	return fm
}

// branchCount is the cyclomatic-complexity proxy: decision keywords and
// short-circuit operators per line.
func branchCount(line string) int {
	n := 0
	for _, kw := range []string{"if ", "for ", "while ", "case ", "catch ", "elif ", "else if", "switch "} {
		if strings.Contains(line, kw) {
			n++
		}
	}
	n += strings.Count(line, "&&") + strings.Count(line, "||")
	return n
}

// docCommentBeforeDecl detects Go-style doc comments: a line comment
// directly above a declaration.
func docCommentBeforeDecl(head string) bool {
	lines := strings.Split(head, "\n")
	for i := 1; i < len(lines); i++ {
		decl := strings.TrimSpace(lines[i])
		prev := strings.TrimSpace(lines[i-1])
		if strings.HasPrefix(prev, "//") &&
			(strings.HasPrefix(decl, "func ") || strings.HasPrefix(decl, "type ") ||
				strings.HasPrefix(decl, "def ") || strings.HasPrefix(decl, "class ")) {
			return true
		}
	}
	return false
}

func scanTestLibraries(content string) []string {
	lower := strings.ToLower(content)
	var out []string
	for _, hint := range testLibraryHints {
		if strings.Contains(lower, hint.marker) {
			out = append(out, hint.name)
		}
	}
	return out
}

// readmeQuality scores a README 0..5: heading, substantial body, setup
// section, usage section, and visuals each earn one point.
func readmeQuality(content string) int {
	score := 0
	lower := strings.ToLower(content)
	if strings.HasPrefix(strings.TrimSpace(content), "# ") {
		score++
	}
	if len(strings.TrimSpace(content)) >= 100 {
		score++
	}
	if strings.Contains(lower, "install") || strings.Contains(lower, "setup") || strings.Contains(lower, "getting started") {
		score++
	}
	if strings.Contains(lower, "usage") || strings.Contains(lower, "example") {
		score++
	}
	if strings.Contains(lower, "![") || strings.Contains(lower, "img.shields.io") || strings.Contains(lower, "<img") {
		score++
	}
	return score
}

// cicdMaturity scores 0..3: any workflow file, multi-step jobs, and
// matrix or staged builds.
func cicdMaturity(ctx context.Context, host codehost.Client, owner, repo string, workflows []string) int {
	if len(workflows) == 0 {
		return 0
	}
	content, err := host.GetFile(ctx, owner, repo, workflows[0])
	if err != nil {
		return 1
	}
	lower := strings.ToLower(content)
	if strings.Contains(lower, "matrix:") || strings.Contains(lower, "strategy:") ||
		strings.Contains(lower, "needs:") {
		return 3
	}
	if strings.Count(lower, "- name:") >= 3 || strings.Count(lower, "- uses:") >= 2 {
		return 2
	}
	return 1
}

func headLines(content string, n int) string {
	lines := strings.SplitN(content, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
