package planner

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/models"
)

var stepHeadingRe = regexp.MustCompile(`^Step\s+(\S+):\s+(.+)$`)

// stepMeta is the fenced YAML metadata block inside a markdown step section.
type stepMeta struct {
	Tool      string            `yaml:"tool"`
	Params    map[string]string `yaml:"params"`
	Files     []string          `yaml:"files"`
	DependsOn []string          `yaml:"depends_on"`
	Critical  bool              `yaml:"critical"`
}

func looksLikeMarkdownPlan(output string) bool {
	return regexp.MustCompile(`(?m)^##\s+Step\s+\S+:`).MatchString(output)
}

// parseMarkdownPlan extracts steps from "## Step N: title" sections. Each
// section may carry one fenced YAML block with step metadata; the remaining
// prose becomes the step's purpose.
func parseMarkdownPlan(source []byte) ([]models.PlanStep, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var steps []models.PlanStep
	var current *models.PlanStep
	var purpose strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		current.Purpose = strings.TrimSpace(purpose.String())
		steps = append(steps, *current)
		current = nil
		purpose.Reset()
	}

	var walkErr error
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if node.Level != 2 {
				return ast.WalkSkipChildren, nil
			}
			flush()
			title := string(nodeText(node, source))
			m := stepHeadingRe.FindStringSubmatch(title)
			if m == nil {
				return ast.WalkSkipChildren, nil
			}
			current = &models.PlanStep{ID: m[1], Title: strings.TrimSpace(m[2])}
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock:
			if current == nil {
				return ast.WalkSkipChildren, nil
			}
			lang := string(node.Language(source))
			body := blockText(node, source)
			if lang == "yaml" || lang == "yml" {
				var meta stepMeta
				if err := yaml.Unmarshal([]byte(body), &meta); err != nil {
					walkErr = &fault.ParseError{
						Role:   string(models.RolePlanner),
						Detail: "step " + current.ID + " has invalid YAML metadata",
						Err:    err,
					}
					return ast.WalkStop, nil
				}
				current.Tool = meta.Tool
				current.Params = meta.Params
				current.Files = meta.Files
				current.DependsOn = meta.DependsOn
				current.Critical = meta.Critical
			} else {
				purpose.WriteString(body)
				purpose.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.ListItem:
			if current != nil {
				if node, ok := n.(*ast.Paragraph); ok {
					purpose.WriteString(string(nodeText(node, source)))
					purpose.WriteString("\n")
					return ast.WalkSkipChildren, nil
				}
			}
		}
		return ast.WalkContinue, nil
	})

	if walkErr != nil {
		return nil, walkErr
	}
	flush()

	if len(steps) == 0 {
		return nil, &fault.ParseError{
			Role:   string(models.RolePlanner),
			Detail: "markdown plan contains no step sections",
		}
	}
	return steps, nil
}

// nodeText collects the raw text of an inline container node.
func nodeText(n ast.Node, source []byte) []byte {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		} else {
			sb.Write(nodeText(c, source))
		}
	}
	return []byte(sb.String())
}

// blockText collects the body lines of a fenced code block.
func blockText(n *ast.FencedCodeBlock, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return sb.String()
}
