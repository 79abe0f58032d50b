package toolthread

import "strings"

// XMLNodeType says where an XML-called parameter is read from.
type XMLNodeType string

const (
	// XMLAttribute reads the parameter from an attribute of the tool tag.
	XMLAttribute XMLNodeType = "attribute"
	// XMLContent reads the parameter from the tool tag's inner text.
	XMLContent XMLNodeType = "content"
	// XMLElement reads the parameter from a nested child element.
	XMLElement XMLNodeType = "element"
)

// XMLMapping binds one parameter to a location inside the tool tag.
// For attributes and elements Path is the attribute or child name; "." means
// the parameter name itself. Content mappings ignore Path.
type XMLMapping struct {
	ParamName string
	NodeType  XMLNodeType
	Path      string
	// TextFields names nested elements whose bodies are kept as raw text, even when
	// they contain markup of their own.
	TextFields []string
}

// Source returns the attribute or element name this mapping reads.
func (m XMLMapping) Source() string {
	if m.Path == "" || m.Path == "." {
		return m.ParamName
	}
	return m.Path
}

// XMLSchema describes how a tool is called with a tag in free text.
type XMLSchema struct {
	TagName string
	// FunctionName is the function the tag calls; tools built with NewTool fill it in.
	FunctionName string
	Mappings     []XMLMapping
	// Example is a human readable usage example for system prompts.
	Example string
}

// AttributeParam is shorthand for an attribute mapping with the same name as the parameter.
func AttributeParam(name string) XMLMapping {
	return XMLMapping{ParamName: name, NodeType: XMLAttribute, Path: "."}
}

// ContentParam is shorthand for a mapping from the tag's inner text.
func ContentParam(name string) XMLMapping {
	return XMLMapping{ParamName: name, NodeType: XMLContent, Path: "."}
}

// ElementParam is shorthand for a nested element mapping. Elements named in
// textFields anywhere below it are read as raw text.
func ElementParam(name, path string, textFields ...string) XMLMapping {
	return XMLMapping{ParamName: name, NodeType: XMLElement, Path: path, TextFields: textFields}
}

// XMLExamples joins the usage examples of schemas, in order, for inclusion in a system prompt.
func XMLExamples(schemas []XMLSchema) string {
	var b strings.Builder
	for _, s := range schemas {
		ex := strings.TrimSpace(s.Example)
		if ex == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(ex)
	}
	return b.String()
}
