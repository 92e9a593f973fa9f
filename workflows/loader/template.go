package loader

import (
	"context"
	"os"
	"path/filepath"

	"github.com/davidroman0O/stageflow/errors"
)

// Template formats accepted by SaveTemplate
const (
	FormatYAML = "yaml"
	FormatCUE  = "cue"
)

const yamlTemplate = `# Starter workflow: collect a request, route on priority, then summarize.
id: feature-request
name: Feature Request
description: Collects a feature request and routes urgent ones for review
metadata:
  createdBy: user
  priority: medium
  tags: [starter]
stages:
  - id: request
    name: Request
    type: form
    formSpec:
      id: request-form
      title: Feature Request
      sections:
        - id: details
          title: Details
          fields:
            - id: title
              type: text
              label: Title
              required: true
            - id: urgency
              type: select
              label: Urgency
              options:
                - { value: low, label: Low }
                - { value: high, label: High }
    conditions:
      - field: urgency
        operator: equals
        value: high
        nextStageId: review
    nextStageIds: [summary]

  - id: review
    name: Review
    type: form
    formSpec:
      id: review-form
      title: Urgent Review
      sections:
        - id: review
          title: Review
          fields:
            - id: reviewer
              type: text
              label: Reviewer
              required: true
    nextStageIds: [summary]

  - id: summary
    name: Summary
    type: aggregation
    aggregationRules:
      - sourceFields: [title, urgency, reviewer]
        targetField: requestSummary
        operation: summarize
`

const cueTemplate = `package workflows

// Starter workflow: collect a request, route on priority, then summarize.
workflows: [{
	id:          "feature-request"
	name:        "Feature Request"
	description: "Collects a feature request and routes urgent ones for review"
	metadata: {
		createdBy: "user"
		priority:  "medium"
		tags: ["starter"]
	}
	stages: [{
		id:   "request"
		name: "Request"
		type: "form"
		formSpec: {
			id:    "request-form"
			title: "Feature Request"
			sections: [{
				id:    "details"
				title: "Details"
				fields: [
					{id: "title", type: "text", label: "Title", required: true},
					{id: "urgency", type: "select", label: "Urgency", options: [
						{value: "low", label:  "Low"},
						{value: "high", label: "High"},
					]},
				]
			}]
		}
		conditions: [{
			field:       "urgency"
			operator:    "equals"
			value:       "high"
			nextStageId: "review"
		}]
		nextStageIds: ["summary"]
	}, {
		id:   "review"
		name: "Review"
		type: "form"
		formSpec: {
			id:    "review-form"
			title: "Urgent Review"
			sections: [{
				id:    "review"
				title: "Review"
				fields: [{id: "reviewer", type: "text", label: "Reviewer", required: true}]
			}]
		}
		nextStageIds: ["summary"]
	}, {
		id:   "summary"
		name: "Summary"
		type: "aggregation"
		aggregationRules: [{
			sourceFields: ["title", "urgency", "reviewer"]
			targetField:  "requestSummary"
			operation:    "summarize"
		}]
	}]
}]
`

// SaveTemplate writes a starter definition in the given format. An empty
// format is inferred from the file extension.
func SaveTemplate(ctx context.Context, format, filePath string) error {
	if format == "" {
		switch filepath.Ext(filePath) {
		case ExtCUE:
			format = FormatCUE
		default:
			format = FormatYAML
		}
	}

	var content string
	switch format {
	case FormatYAML:
		content = yamlTemplate
	case FormatCUE:
		content = cueTemplate
	default:
		return errors.Newf(errors.ErrInvalidInput, "unknown template format: %s", format)
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCancelled, "save cancelled")
	}
	return os.WriteFile(filePath, []byte(content), 0644)
}
