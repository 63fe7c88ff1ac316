package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"medscan"
	"medscan/registry"
	"medscan/schema"
)

type Stage int

const (
	StageInitial Stage = iota
	StageAugmented
)

func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "INITIAL"
	case StageAugmented:
		return "AUGMENTED"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// First lines of each stage's prompt. Test doubles switch on them.
const (
	InitialHeader   = "TASK: READ MEDICINE PACKAGING"
	AugmentedHeader = "TASK: WRITE MEDICINE REPORT"
)

const defaultLanguage = "English"

// Context is everything a prompt may depend on. Build output is a pure function of it.
type Context struct {
	TextQuery string
	HasImage  bool
	Language  string

	// Augmented stage only.
	Signal  *medscan.ToolSignal
	Outcome registry.Outcome
}

// Build renders the prompt for stage.
func Build(stage Stage, c Context) (string, error) {
	switch stage {
	case StageInitial:
		return buildInitial(c)
	case StageAugmented:
		return buildAugmented(c)
	default:
		return "", fmt.Errorf("unknown prompt stage %s", stage)
	}
}

const initialInstructions = `You are a pharmacist's assistant reading medicine packaging.

RULES:
- Read ONLY what is visibly printed. Do not use prior or memorized knowledge of medicine names.
- Never correct, complete or guess a name you cannot read. Copy text exactly as printed.
- If a value is not visible, leave it as an empty string.

STEPS:
1. Describe the packaging: form (box, blister, bottle, tube), colours and layout.
2. List ALL visible text, ordered from most to least prominent.
3. The single most prominent text is the product name.
4. Extract the active ingredient(s), strength and registration number if they are visible.
5. Rate your confidence in the product name from 0 to 1.
6. Call the ` + schema.ToolName + ` tool by emitting ONE fenced json block that matches the schema below.

If there is no medicine packaging to read and the question can be answered directly, answer in plain prose without any JSON.`

func buildInitial(c Context) (string, error) {
	toolSchema, err := schema.JSON(schema.ToolCall())
	if err != nil {
		return "", fmt.Errorf("failed to render tool schema: %w", err)
	}

	var b strings.Builder
	b.WriteString(InitialHeader)
	b.WriteString("\n\n")
	b.WriteString(initialInstructions)
	b.WriteString("\n\nTOOL CALL SCHEMA:\n```json\n")
	b.WriteString(toolSchema)
	b.WriteString("\n```\n\nExample:\n```json\n")
	b.WriteString(`{"tool_call":{"name":"` + schema.ToolName + `","parameters":{"product_name":"...","active_ingredient":"...","strength":"...","registration_number":"...","packaging_description":"...","all_visible_text":"...","confidence":0.9}}}`)
	b.WriteString("\n```\n")

	if c.HasImage {
		b.WriteString("\nAn image of the packaging is attached.\n")
	} else {
		b.WriteString("\nNo image is attached. Work only from the user's text.\n")
	}
	writeQuery(&b, c.TextQuery)
	return b.String(), nil
}

const augmentedInstructions = `You are a pharmacist's assistant writing a medicine information report.

RULES:
- When a verified registry record is given, it is the source of truth for the medicine name, generic name, active ingredient and manufacturer. Prefer it over anything read from the packaging.
- Fill purpose, dosage instructions, side effects, allergy warning, drug interactions, safety notes and storage from general pharmacological knowledge of the active ingredient.
- If something is unknown, state "unavailable". Do not fabricate.
- Return ONE fenced json block matching the schema below. Every field is a string. No other JSON.`

func buildAugmented(c Context) (string, error) {
	reportSchema, err := schema.JSON(schema.Report())
	if err != nil {
		return "", fmt.Errorf("failed to render report schema: %w", err)
	}

	language := strings.TrimSpace(c.Language)
	if language == "" {
		language = defaultLanguage
	}

	var b strings.Builder
	b.WriteString(AugmentedHeader)
	b.WriteString("\n\n")
	b.WriteString(augmentedInstructions)
	fmt.Fprintf(&b, "\n- Write every field in %s.\n", language)

	b.WriteString("\nEXTRACTED FROM PACKAGING:\n")
	if c.Signal != nil {
		signal, err := json.MarshalIndent(c.Signal, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to render tool signal: %w", err)
		}
		b.WriteString("```json\n")
		b.Write(signal)
		b.WriteString("\n```\n")
	} else {
		b.WriteString("nothing usable\n")
	}

	b.WriteString("\n")
	writeRegistry(&b, c.Outcome)

	b.WriteString("\nREPORT SCHEMA:\n```json\n")
	b.WriteString(reportSchema)
	b.WriteString("\n```\n")
	writeQuery(&b, c.TextQuery)
	return b.String(), nil
}

func writeRegistry(b *strings.Builder, o registry.Outcome) {
	fmt.Fprintf(b, "REGISTRY STATUS: %s\n", o.Kind)

	switch o.Kind {
	case registry.KindFound:
		if o.Record == nil {
			b.WriteString("The record is missing. Use general knowledge only.\n")
			return
		}
		b.WriteString("VERIFIED REGISTRY RECORD:\n")
		r := o.Record
		for _, f := range []struct{ label, value string }{
			{"Product name", r.ProductName},
			{"Active ingredient", r.ActiveIngredient},
			{"Generic name", r.GenericName},
			{"Manufacturer", r.Manufacturer},
			{"Registration holder", r.Holder},
			{"Registration number", r.RegistrationNumber},
			{"Registration status", r.Status},
		} {
			if strings.TrimSpace(f.value) == "" {
				continue
			}
			fmt.Fprintf(b, "- %s: %s\n", f.label, f.value)
		}
	case registry.KindNotFound:
		b.WriteString("No verified record matched. Use general knowledge only and say the product could not be verified.\n")
	case registry.KindToolError:
		b.WriteString("The packaging extraction could not be read, so no lookup was made. Rely on the attached image and the user's question.\n")
	case registry.KindInvalidSignal:
		b.WriteString("The packaging extraction was incomplete, so no lookup was made. Rely on the attached image and the user's question.\n")
	case registry.KindNoSignal:
		b.WriteString("No extraction was made. Rely on the attached image and the user's question.\n")
	}

	if o.Message != "" {
		fmt.Fprintf(b, "Detail: %s\n", o.Message)
	}
}

func writeQuery(b *strings.Builder, q string) {
	q = strings.TrimSpace(q)
	if q == "" {
		return
	}
	b.WriteString("\nUSER QUESTION:\n")
	b.WriteString(q)
	b.WriteString("\n")
}
