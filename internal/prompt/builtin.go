package prompt

// Built-in template names.
const (
	PatchTemplate    = "patch.md"
	ThinkingTemplate = "thinking.md"
	SystemTemplate   = "system.md"
	SelectTemplate   = "select.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	PatchTemplate:    patchTemplate,
	ThinkingTemplate: thinkingTemplate,
	SystemTemplate:   systemTemplate,
	SelectTemplate:   selectTemplate,
}

const systemTemplate = `You are a software engineer fixing a bug in a Python repository.
You work only through the tools you are given. Tool calls run inside the
repository checkout; paths you pass to the editor should be relative to it.
When you are done, reply with the unified diff of your change and nothing else.
`

const patchTemplate = `# Task

Resolve the following issue in the repository at {{repo_path}}.

## Issue
{{problem_statement}}

{{#if hints_text}}
## Hints
{{hints_text}}
{{/if}}

## Attempt
This is generation attempt {{attempt}}.

{{#if generation_err_msg}}
## Previous generation failed
{{generation_err_msg}}
{{/if}}

{{#if validation_err_msg}}
## Previous patch failed validation
The last patch could not be applied or did not pass the linter:

{{validation_err_msg}}

Fix these problems in your next patch.
{{/if}}

{{#if evaluation_err_msg}}
## Previous patch failed evaluation
The last patch applied but did not resolve the issue. Failing output:

{{evaluation_err_msg}}
{{/if}}

## Instructions
1. Explore the repository to find the code responsible for the issue.
2. Reproduce the problem if you can, using the bash tool.
3. Make the smallest change that fixes it with str_replace_editor.
4. Run patch_validator on your diff before answering.
5. Produce the final diff with ` + "`git diff`" + ` from the repository root.

## Output
Reply with exactly one unified diff in git format (` + "`diff --git a/<path> b/<path>`" + `
headers, ` + "`---`/`+++`" + ` lines and ` + "`@@`" + ` hunks). Do not include explanations,
and do not modify test files.
`

const thinkingTemplate = `You are reasoning step by step about a problem.

## Problem
{{problem}}

{{#if previous}}
## Thoughts so far
{{previous}}
{{/if}}

Write the next thought (step {{step}} of at most {{max_steps}}). Keep it short.
If you have reached a conclusion, start the line with "FINAL ANSWER:" followed
by the conclusion.
`

const selectTemplate = `You are an expert software engineer reviewing several proposed fixes for
the following issue.

## Issue
{{problem_statement}}

## Candidate patches
{{candidates}}

Select the best patch based on:
- Correctness
- Minimality (the smallest change necessary)
- Idiomatic code style

Reply with a single line of JSON and nothing else:

{"selected_patch_idx": <int>, "reason": "<one-line explanation>"}
`
