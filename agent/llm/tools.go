package llm

import (
	"fmt"
	"slices"

	"github.com/cloudwego/eino/schema"
	"github.com/google/jsonschema-go/jsonschema"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

// ToolInfos renders tool definitions in eino's format.
func ToolInfos(defs []contractx.ToolDefinition) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(defs))
	for _, def := range defs {
		info := &schema.ToolInfo{Name: def.Name, Desc: def.Description}
		if params := paramsOf(def.Parameters); len(params) > 0 {
			info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
		}
		out = append(out, info)
	}
	return out
}

func paramsOf(s *jsonschema.Schema) map[string]*schema.ParameterInfo {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	out := make(map[string]*schema.ParameterInfo, len(s.Properties))
	for name, prop := range s.Properties {
		p := parameterInfo(prop)
		p.Required = slices.Contains(s.Required, name)
		out[name] = p
	}
	return out
}

func parameterInfo(s *jsonschema.Schema) *schema.ParameterInfo {
	p := &schema.ParameterInfo{Desc: s.Description}
	switch schemaType(s) {
	case "object":
		p.Type = schema.Object
		p.SubParams = paramsOf(s)
	case "array":
		p.Type = schema.Array
		if s.Items != nil {
			p.ElemInfo = parameterInfo(s.Items)
		}
	case "integer":
		p.Type = schema.Integer
	case "number":
		p.Type = schema.Number
	case "boolean":
		p.Type = schema.Boolean
	default:
		p.Type = schema.String
	}
	for _, v := range s.Enum {
		p.Enum = append(p.Enum, fmt.Sprint(v))
	}
	if s.Pattern != "" {
		if p.Desc != "" {
			p.Desc += " "
		}
		p.Desc += "(pattern " + s.Pattern + ")"
	}
	return p
}

// schemaType picks the non-null type; For emits ["null", T] for pointers.
func schemaType(s *jsonschema.Schema) string {
	if s.Type != "" {
		return s.Type
	}
	for _, t := range s.Types {
		if t != "null" {
			return t
		}
	}
	return ""
}
