// Package core provides the small set of domain types shared by the agent
// platform packages:
//
//   - Tenant (the single customer identity a deployment serves)
//   - Content / Part (provider neutral conversation content, including
//     function call and function response parts)
//   - ToolContext (tenant and execution scoped surface handed to tools)
//   - StepLimiter (the per-run agent loop budget)
//
// Persistence, model providers and orchestration live in their own packages
// and only depend on these types.
package core
