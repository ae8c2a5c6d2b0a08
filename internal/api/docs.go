package api

// docsHTML renders /openapi.json with Stoplight Elements. The header links
// the raw OpenAPI document and the SSE feed.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Subtitle Daemon API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; height: 100vh; display: flex; flex-direction: column; background: #0d1117; }
    nav { display: flex; gap: 16px; padding: 6px 16px; font: 12px system-ui, sans-serif; border-bottom: 1px solid #30363d; }
    nav a { color: #58a6ff; text-decoration: none; }
    elements-api { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <nav><a href="/openapi.json">openapi.json</a><a href="/api/v1/events">events</a></nav>
  <elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" darkMode />
</body>
</html>`
