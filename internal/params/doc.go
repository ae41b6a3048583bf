// Package params resolves the inputs of a stage.
//
// For every declared parameter the value comes from, in order of precedence:
//
//	caller input  >  stage `with` binding  >  declared default
//
// Values are typed as cty values and checked against the declared type
// (string, number, bool or enum). Resolution is pure: it never touches
// secrets, which travel to executors through a separate channel.
package params
