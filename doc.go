// Package toolthread is the function layer of a conversational agent runtime: it registers
// model-callable functions grouped by capability provider, describes them to the model
// (structured schemas for native calling, XML tag schemas for XML calling) and executes
// the calls the model makes.
//
// # Overview
//
// LLMs produce tool calls either as structured JSON (native calling) or as XML tags embedded
// in free text. Both end up as a ToolCall whose Args is a JSON object. Execution turns that
// JSON into a typed Go call: unmarshal, validate against the same JSON Schema shown to the
// model, run, then fold the streamed chunks into a ToolResult.
//
// Pipeline: Go function + argument struct → NewTool (reflection + schema) → Provider →
// Registry → Executor (sequential or parallel) → []ToolResult.
//
// # Key concepts
//
//   - Single source of truth: one set of struct tags drives both the schema sent to the
//     model and the validation of incoming arguments. XML attribute text is converted to
//     the integer, number or boolean the schema declares before validation.
//   - Partial success: executors return one result per call; a failing, panicking or slow
//     call never cancels the others.
//   - Self-correction: ClientError and ToolFailure carry readable messages back to the model.
//   - Order: parallel results are index-aligned with the calls, never completion-ordered.
//
// Conversation persistence lives in package thread, XML parsing in package xmlcall, and the
// run loop that ties them to a model in package orchestrator.
//
// # Example
//
//	type Args struct { City string `json:"city" jsonschema:"City name"` }
//	type Out  struct { Temp float64 `json:"temp"` }
//	weather, err := toolthread.NewTool("weather", "Get weather", func(_ context.Context, a Args) (Out, error) {
//	    return Out{Temp: 22.5}, nil
//	}, toolthread.WithXMLSchema("weather", `<weather city="Moscow"/>`, toolthread.AttributeParam("city")))
//	if err != nil { ... }
//	reg := toolthread.NewRegistry()
//	if err := reg.RegisterProvider(toolthread.NewProvider("weather", weather)); err != nil { ... }
//	results := toolthread.NewParallelExecutor().ExecuteCalls(ctx, calls, reg.AvailableFunctions(), nil)
package toolthread
