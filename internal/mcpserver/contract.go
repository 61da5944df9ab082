package mcpserver

// MetadataFormatContract describes the comment header that declares a
// script's name, description and triggers.
const MetadataFormatContract = `# kitd Script Metadata Contract

Scripts live in ` + "`" + `<kenv>/scripts/` + "`" + ` (or ` + "`" + `<kenv>/kenvs/<name>/scripts/` + "`" + `)
and end with .js, .mjs, .cjs, .ts, .mts, .cts, .jsx or .tsx. TypeScript and JSX sources are
built into ` + "`" + `<kenv>/.scripts/` + "`" + ` after every save.

## Header

The header is the leading block of comment lines. Scanning stops at the first line that is
neither blank nor a comment. Keys are case-insensitive; the first occurrence wins.

` + "```" + `js
// Name: Clipboard History
// Description: Browse recent clipboard entries
// Shortcut: cmd shift v
// Schedule: */15 * * * *
// System: resume, unlock-screen
// Watch: ~/Downloads/*.pdf
// Background: auto
// Snippet: ;clip

import { history } from "./lib/clipboard.js"
` + "```" + `

## Fields

| Key | Meaning |
|---|---|
| Name | Display name. Defaults to the file name without extension. |
| Description | One line shown under the name. |
| Shortcut | Global accelerator: modifiers (cmd, ctrl, alt/opt, shift) plus one key. Function keys need no modifier. The newest script wins a conflict. The main prompt shortcut cannot be taken. |
| Schedule (or Cron) | Standard 5-field cron expression or a descriptor such as @hourly or @every 10m. |
| System | Comma-separated: suspend, resume, on-ac, on-battery, shutdown, lock-screen, unlock-screen, user-did-become-active, user-did-resign-active. Unknown names are skipped. |
| Watch | Comma-separated glob patterns (** allowed, ~/ expands to home). The script runs with the changed file as its argument. |
| Background | ` + "`" + `true` + "`" + ` to allow starting in the background, ` + "`" + `auto` + "`" + ` to start as soon as it registers. |
| Snippet (or Expand) | Text trigger of at least 2 characters. A leading * makes it a postfix snippet: the word typed before the key is passed as the second argument. |

## Text snippets

` + "`" + `.txt` + "`" + ` files in a ` + "`" + `snippets/` + "`" + ` directory use ` + "`" + `#` + "`" + ` comments:

` + "```" + `text
# Snippet: ;addr
221B Baker Street
` + "```" + `

## Rules

1. Invalid trigger values are logged and skipped; the rest of the script still registers.
2. Relative imports (./ or ../) are tracked. Saving a script re-checks every script that
   imports it, directly or transitively.
3. Files are UTF-8 text. Binary files are ignored.
`
