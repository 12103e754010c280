package patterns

import "regexp"

// Default is the process-wide registry preloaded with the builtin versions.
var Default = NewRegistry()

const (
	// VersionStrict is the current tuning. Thresholds were raised after
	// generic "Error:" lines in tool output kept tripping the error class.
	VersionStrict = "2025.08-strict"
	// VersionLoose is the pre-tuning set, kept selectable for A/B
	// comparison against the strict thresholds.
	VersionLoose = "2025.05-loose"
)

func init() {
	Default.MustRegister(buildVersion(VersionStrict, "claude-code 1.0.x", map[StateClass]float64{
		ClassError:   0.75,
		ClassWaiting: 0.65,
		ClassWorking: 0.60,
		ClassIdle:    0.50,
	}))
	Default.MustRegister(buildVersion(VersionLoose, "claude-code 0.2.x", map[StateClass]float64{
		ClassError:   0.70,
		ClassWaiting: 0.60,
		ClassWorking: 0.50,
		ClassIdle:    0.40,
	}))
}

func buildVersion(name, calibratedAgainst string, thresholds map[StateClass]float64) *Version {
	return &Version{
		Name:              name,
		CalibratedAgainst: calibratedAgainst,
		thresholds:        thresholds,
		patterns: map[StateClass][]Pattern{
			ClassWaiting: {
				{Tag: "bash_permission", Regex: regexp.MustCompile(`(?i)do you want to (proceed|run|allow|make this edit|create)`), Confidence: 0.95},
				{Tag: "permission_options", Regex: regexp.MustCompile(`(?m)^\s*❯?\s*1\.\s*Yes\b`), Confidence: 0.90},
				{Tag: "plan_approval", Regex: regexp.MustCompile(`(?i)would you like to proceed(\s+with this plan)?\?`), Confidence: 0.92},
				{Tag: "plan_ready", Regex: regexp.MustCompile(`(?i)ready to code\?|here is (the|my) plan`), Confidence: 0.75},
				{Tag: "question_choice", Regex: regexp.MustCompile(`(?m)\?\s*$[\s\S]*^\s*(?:❯|\d+\.)\s+\S`), Confidence: 0.80},
				{Tag: "feedback_yn", Regex: regexp.MustCompile(`(?i)\((y/n|yes/no)\)\s*:?\s*$`), Confidence: 0.75},
				{Tag: "waiting_trust", Regex: regexp.MustCompile(`(?i)do you trust the files in this folder`), Confidence: 0.95},
			},
			ClassWorking: {
				{Tag: "braille_spinner", Regex: regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏✻✽·✢]\s+\S`), Confidence: 0.90},
				{Tag: "esc_interrupt", Regex: regexp.MustCompile(`(?i)esc to interrupt`), Confidence: 0.95},
				{Tag: "working_verb", Regex: regexp.MustCompile(`(?i)(thinking|working|running|pondering|wrangling|forging|vibing|computing)(…|\.{3})`), Confidence: 0.80},
				{Tag: "tool_bullet", Regex: regexp.MustCompile(`(?m)^\s*[●⏺]\s+\S`), Confidence: 0.70},
				{Tag: "token_counter", Regex: regexp.MustCompile(`\d+\s+tokens`), Confidence: 0.60},
			},
			ClassIdle: {
				{Tag: "input_box_empty", Regex: regexp.MustCompile(`(?m)^\s*│?\s*>\s*│?\s*$`), Confidence: 0.70},
				{Tag: "idle_hint", Regex: regexp.MustCompile(`(?i)\? for shortcuts|/help for help`), Confidence: 0.75},
				{Tag: "shell_prompt", Regex: regexp.MustCompile(`(?m)[$%#]\s*$`), Confidence: 0.60},
				{Tag: "context_left", Regex: regexp.MustCompile(`\d+%\s+context left`), Confidence: 0.55},
			},
			ClassError: {
				{Tag: "error_line", Regex: regexp.MustCompile(`(?im)^\s*error:`), Confidence: 0.60},
				{Tag: "api_error", Regex: regexp.MustCompile(`(?i)api error|overloaded_error|rate limit (reached|exceeded)`), Confidence: 0.85},
				{Tag: "panic_trace", Regex: regexp.MustCompile(`panic:|Traceback \(most recent call last\)`), Confidence: 0.80},
				{Tag: "fatal_line", Regex: regexp.MustCompile(`(?im)^\s*fatal:`), Confidence: 0.70},
				{Tag: "command_failed", Regex: regexp.MustCompile(`(?i)command (failed|not found)|exit code [1-9]`), Confidence: 0.65},
			},
		},
		options: OptionExtractors{
			Numbered: regexp.MustCompile(`(?m)^\s*❯?\s*(\d+)[.)]\s+(.+?)\s*$`),
			Bulleted: regexp.MustCompile(`(?m)^\s*[-*•]\s+(.+?)\s*$`),
			Arrowed:  regexp.MustCompile(`(?m)^\s*[❯→]\s+(.+?)\s*$`),
		},
		promptKinds: map[string]PromptKind{
			"bash_permission":    KindPermission,
			"permission_options": KindPermission,
			"waiting_trust":      KindPermission,
			"plan_approval":      KindPlan,
			"plan_ready":         KindPlan,
			"question_choice":    KindQuestion,
			"feedback_yn":        KindFeedback,
		},
	}
}
