// Package plan parses the generation plan file and expands it into the full
// cartesian task list. The plan is a sectioned text file:
//
//	## 领域列表（20个）
//	美容美发 (Beauty_Hairdressing)
//	...
//	## 模糊类型列表（8种）
//	condition_missing（条件缺失）
//	...
//	## 对话轮次列表（5种）
//	1轮：...
//	...
//	## 生成指令
//	(free text, not parsed)
//
// Lines are carried whole into generation instructions; codes for file paths
// are extracted separately.
package plan

import (
	"fmt"
	"os"
	"strings"

	"github.com/clarigen/clarigen/pkg/models"
)

// Plan holds the raw section lines from the plan file.
type Plan struct {
	Domains []string
	Types   []string
	Rounds  []string
}

// Load reads and parses a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(string(data))
}

// Parse splits plan text into its sections. Parsing stops at the generation
// instruction section; its content belongs to the prompt, not the plan.
func Parse(text string) (*Plan, error) {
	p := &Plan{}
	section := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "##") {
			switch {
			case strings.Contains(line, "领域列表"):
				section = "domains"
			case strings.Contains(line, "模糊类型列表"):
				section = "types"
			case strings.Contains(line, "对话轮次列表"):
				section = "rounds"
			case strings.Contains(line, "生成指令"):
				return p.validated()
			default:
				section = ""
			}
			continue
		}

		switch section {
		case "domains":
			p.Domains = append(p.Domains, line)
		case "types":
			p.Types = append(p.Types, line)
		case "rounds":
			p.Rounds = append(p.Rounds, line)
		}
	}

	return p.validated()
}

func (p *Plan) validated() (*Plan, error) {
	if len(p.Domains) == 0 {
		return nil, fmt.Errorf("plan contains no domain entries")
	}
	if len(p.Types) == 0 {
		return nil, fmt.Errorf("plan contains no ambiguity type entries")
	}
	if len(p.Rounds) == 0 {
		return nil, fmt.Errorf("plan contains no round entries")
	}
	return p, nil
}

// Tasks expands the plan into the cartesian product of domains, types, and
// rounds, each with the given target record count. Round lines that yield no
// parseable round number are skipped with an error.
func (p *Plan) Tasks(target int) ([]models.Task, error) {
	var tasks []models.Task
	for _, domainLine := range p.Domains {
		domainCode := ExtractDomainCode(domainLine)
		if domainCode == "" {
			return nil, fmt.Errorf("domain line %q has no code in parentheses", domainLine)
		}
		for _, typeLine := range p.Types {
			typeCode := ExtractTypeCode(typeLine)
			if typeCode == "" {
				return nil, fmt.Errorf("type line %q has no code before the full-width parenthesis", typeLine)
			}
			for _, roundLine := range p.Rounds {
				rounds := ExtractRoundNum(roundLine)
				if rounds == 0 {
					return nil, fmt.Errorf("round line %q has no leading round number", roundLine)
				}
				tasks = append(tasks, models.Task{
					DomainLine: domainLine,
					TypeLine:   typeLine,
					RoundLine:  roundLine,
					DomainCode: domainCode,
					TypeCode:   typeCode,
					Rounds:     rounds,
					Target:     target,
				})
			}
		}
	}
	return tasks, nil
}

// ExtractDomainCode pulls the ASCII code from a domain line, e.g.
// "美容美发 (Beauty_Hairdressing)" -> "Beauty_Hairdressing".
func ExtractDomainCode(domainLine string) string {
	start := strings.LastIndex(domainLine, "(")
	end := strings.LastIndex(domainLine, ")")
	if start >= 0 && end > start {
		return strings.TrimSpace(domainLine[start+1 : end])
	}
	return ""
}

// ExtractTypeCode pulls the code before the full-width parenthesis, e.g.
// "condition_missing（条件缺失）" -> "condition_missing".
func ExtractTypeCode(typeLine string) string {
	if idx := strings.Index(typeLine, "（"); idx >= 0 {
		return strings.TrimSpace(typeLine[:idx])
	}
	return ""
}

// ExtractRoundNum pulls the leading round number, e.g. "3轮：..." -> 3.
// Returns 0 when the line does not start with a digit.
func ExtractRoundNum(roundLine string) int {
	n := 0
	seen := false
	for _, r := range roundLine {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
		seen = true
	}
	if !seen {
		return 0
	}
	return n
}

// GenerationInstruction builds the instruction for a fresh batch of count
// records, carrying the plan lines whole so the model sees their full
// descriptions.
func GenerationInstruction(task models.Task, count int) string {
	return fmt.Sprintf(`请生成%d条数据，要求：
1. 领域：%s
2. 模糊类型：%s
3. 对话轮次：%s
4. 数据格式：必须输出为有效的JSON数组格式，每条数据为sharegpt格式（包含system和conversations字段）
5. 每条数据必须是完整的对话，以【完整请求总结】结束
6. 助手在信息不足时必须追问，在信息完整后必须总结
`, count, task.DomainLine, task.TypeLine, task.RoundLine)
}

// BackfillInstruction builds the in-session follow-up asking for the
// remaining shortfall. It relies on the session history for the task
// description, so it is only valid in a session that has already seen the
// full instruction.
func BackfillInstruction(current, needed int) string {
	return fmt.Sprintf("现在已经生成了%d条数据，帮我把剩下的%d条数据补齐", current, needed)
}
