package notify

import (
	"fmt"

	"termsguard/pkg/termsguard"
)

// notificationText holds the user-facing copy for one risk level.
type notificationText struct {
	title   string
	message string
}

var notificationTexts = map[termsguard.RiskLevel]notificationText{
	termsguard.RiskLevelHigh: {
		title:   "High Risk Terms Detected!",
		message: "Terms from %s contain high-risk clauses that require your attention.",
	},
	termsguard.RiskLevelMedium: {
		title:   "Medium Risk Terms Found",
		message: "Terms from %s contain some concerning clauses. Review recommended.",
	},
	termsguard.RiskLevelLow: {
		title:   "Low Risk Terms",
		message: "Terms from %s appear to be relatively safe.",
	},
	termsguard.RiskLevelVeryLow: {
		title:   "Very Safe Terms",
		message: "Terms from %s are consumer-friendly with minimal risks.",
	},
}

// showNotification is the tab message asking the content script to raise a notification.
type showNotification struct {
	Action    string                    `json:"action"`
	RiskLevel termsguard.RiskLevel      `json:"risk_level"`
	Title     string                    `json:"title"`
	Message   string                    `json:"message"`
	Data      termsguard.AnalysisResult `json:"data"`
}

// analysisComplete carries the analysis result to the tab that asked for it.
type analysisComplete struct {
	Action string                    `json:"action"`
	URL    string                    `json:"url,omitempty"`
	Cached bool                      `json:"cached"`
	Data   termsguard.AnalysisResult `json:"data"`
}

func analysisCompleteMessage(event *termsguard.Event) analysisComplete {
	return analysisComplete{
		Action: termsguard.ActionAnalysisComplete,
		URL:    event.Outcome.URL,
		Cached: event.Kind == termsguard.EventKindAnalysisCached,
		Data:   event.Outcome.Result,
	}
}

func notificationMessage(outcome *termsguard.AnalysisOutcome) showNotification {
	level := outcome.Result.RiskLevel()
	text, ok := notificationTexts[level]
	if !ok {
		text = notificationTexts[termsguard.RiskLevelMedium]
	}

	domain := outcome.Domain
	if domain == "" {
		domain = "this site"
	}

	return showNotification{
		Action:    termsguard.ActionShowNotification,
		RiskLevel: level,
		Title:     text.title,
		Message:   fmt.Sprintf(text.message, domain),
		Data:      outcome.Result,
	}
}
